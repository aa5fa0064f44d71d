package app

import (
	"math"
	"time"

	"github.com/roman-kulish/rig-telemetry/internal/telemetry"
)

// Point is a single channel value at its capture instant
type Point struct {
	At    time.Time
	Value float64
}

// Series holds the plotted values of one channel. A sample without the channel value
// closes the current segment, so the line is broken across the gap.
type Series struct {
	Field    telemetry.Field
	Segments [][]Point
	Count    int

	open bool
}

func (s *Series) add(p Point) {
	if !s.open {
		s.Segments = append(s.Segments, nil)
		s.open = true
	}
	last := len(s.Segments) - 1
	s.Segments[last] = append(s.Segments[last], p)
	s.Count++
}

func (s *Series) breakLine() {
	s.open = false
}

// ValueBounds is the value range covered by every plotted series
type ValueBounds struct {
	Min, Max float64
}

// Span returns the bounds widened so that Max > Min
func (b ValueBounds) Span() ValueBounds {
	if b.Max > b.Min {
		return b
	}
	return ValueBounds{Min: b.Min - 1, Max: b.Max + 1}
}

type ChartData struct {
	Series                       []*Series
	Samples                      int
	TimestampStart, TimestampEnd time.Time
	Bounds                       ValueBounds
}

func NewChartData(fields []telemetry.Field) *ChartData {
	c := ChartData{
		Series: make([]*Series, len(fields)),
		Bounds: ValueBounds{Min: math.MaxFloat64, Max: -math.MaxFloat64},
	}
	for i, f := range fields {
		c.Series[i] = &Series{Field: f}
	}
	return &c
}

// Update adds one stored sample. Samples are expected in capture order.
func (c *ChartData) Update(rec telemetry.Record) {
	s := rec.Sample
	if s == nil || !s.Stamped() {
		return
	}
	c.Samples++

	if c.TimestampStart.IsZero() || c.TimestampStart.After(s.CapturedAt) {
		c.TimestampStart = s.CapturedAt
	}
	if c.TimestampEnd.IsZero() || c.TimestampEnd.Before(s.CapturedAt) {
		c.TimestampEnd = s.CapturedAt
	}

	for _, series := range c.Series {
		v, ok := series.Field.Value(s)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			series.breakLine()
			continue
		}

		series.add(Point{At: s.CapturedAt, Value: v})
		c.Bounds.Min = min(c.Bounds.Min, v)
		c.Bounds.Max = max(c.Bounds.Max, v)
	}
}

// Points returns the number of plotted values across all series
func (c *ChartData) Points() int {
	var n int
	for _, s := range c.Series {
		n += s.Count
	}
	return n
}
