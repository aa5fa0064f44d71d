package storage

import (
	_ "embed"
	"strings"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      port_id,
                      baud_rate,
                      config)
VALUES (?, ?, ?, ?)`

	selectSessionSQL = `
SELECT id,
       start_time,
       port_id,
       baud_rate,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       start_time,
       port_id,
       baud_rate,
       config
FROM sessions
ORDER BY start_time, id`

	selectSummarySQL = `
SELECT COUNT(*),
       MIN(captured_at),
       MAX(captured_at)
FROM samples
WHERE (? = 0 OR session_id = ?)`

	clearSamplesSQL  = `DELETE FROM samples`
	clearSessionsSQL = `DELETE FROM sessions`
)

// sample columns preceding the telemetry field columns
var sampleHeadColumns = []string{"session_id", "captured_at", "date", "time"}

var (
	insertSampleSQL = "INSERT INTO samples (" + strings.Join(sampleColumns(), ", ") + ") VALUES "

	// one placeholder group per sample row
	sampleValuesPlaceholder = "(" + strings.TrimSuffix(strings.Repeat("?, ", len(sampleColumns())), ", ") + ")"

	selectSamplesSQL = `
SELECT ` + strings.Join(sampleColumns(), ",\n       ") + `
FROM samples
WHERE (? = 0 OR session_id = ?)
  AND captured_at >= ?
  AND captured_at <= ?
ORDER BY captured_at, id`
)

func sampleColumns() []string {
	columns := make([]string, 0, len(sampleHeadColumns)+len(telemetry.Fields))
	columns = append(columns, sampleHeadColumns...)
	for _, f := range telemetry.Fields {
		columns = append(columns, f.Column)
	}
	return columns
}
