package storage

import (
	"database/sql"
	"time"
)

// Session is a single connection to the rig controller
type Session struct {
	ID        int64     `json:"id"`
	StartTime time.Time `json:"startTime"`
	PortID    string    `json:"portId"`
	BaudRate  int       `json:"baudRate"`
	Config    *string   `json:"config,omitempty"` // JSON-encoded settings in effect at connect time
}

// Summary describes the stored samples matching a query
type Summary struct {
	Count int64
	First time.Time
	Last  time.Time
}

type sessionData struct {
	ID        int64
	StartTime time.Time
	PortID    string
	BaudRate  int
	Config    sql.NullString
}

func (d *sessionData) toSession() *Session {
	s := Session{
		ID:        d.ID,
		StartTime: d.StartTime,
		PortID:    d.PortID,
		BaudRate:  d.BaudRate,
	}
	if d.Config.Valid {
		s.Config = &d.Config.String
	}
	return &s
}
