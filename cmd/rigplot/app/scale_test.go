package app

import (
	"testing"
	"time"
)

func TestCalculateNiceTimeStep(t *testing.T) {
	tests := []struct {
		duration time.Duration
		width    int
		want     time.Duration
	}{
		{duration: 10 * time.Second, width: 1500, want: time.Second},
		{duration: 10 * time.Minute, width: 1500, want: time.Minute},
		{duration: 40 * time.Minute, width: 1500, want: 5 * time.Minute},
		{duration: 3 * time.Hour, width: 750, want: time.Hour},
		{duration: 30 * 24 * time.Hour, width: 1500, want: 3 * 24 * time.Hour},
		{duration: time.Minute, width: 10, want: time.Minute},
	}

	for _, tt := range tests {
		if got := calculateNiceTimeStep(tt.duration, tt.width); got != tt.want {
			t.Errorf("calculateNiceTimeStep(%s, %d) = %s, want %s", tt.duration, tt.width, got, tt.want)
		}
	}
}

func TestAlignTime(t *testing.T) {
	loc := time.FixedZone("MYT", 8*60*60)
	start := time.Date(2025, time.March, 14, 9, 2, 3, 0, loc)

	tests := []struct {
		step time.Duration
		want time.Time
	}{
		{step: time.Second, want: start},
		{step: time.Minute, want: time.Date(2025, time.March, 14, 9, 3, 0, 0, loc)},
		{step: 15 * time.Minute, want: time.Date(2025, time.March, 14, 9, 15, 0, 0, loc)},
		{step: 24 * time.Hour, want: time.Date(2025, time.March, 15, 0, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		if got := alignTime(start.UTC(), tt.step, loc); !got.Equal(tt.want) {
			t.Errorf("alignTime(%s) = %v, want %v", tt.step, got, tt.want)
		}
	}
}

func TestCalculateNiceValueStep(t *testing.T) {
	tests := []struct {
		span   float64
		height int
		want   float64
	}{
		{span: 100, height: 600, want: 10},
		{span: 7, height: 600, want: 1},
		{span: 1.2, height: 600, want: 0.2},
		{span: 30, height: 600, want: 5},
		{span: 0, height: 600, want: 1},
	}

	for _, tt := range tests {
		if got := calculateNiceValueStep(tt.span, tt.height); got != tt.want {
			t.Errorf("calculateNiceValueStep(%v, %d) = %v, want %v", tt.span, tt.height, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		v, step float64
		want    string
	}{
		{v: 12, step: 2, want: "12"},
		{v: 0.4, step: 0.2, want: "0.4"},
		{v: 1e-17, step: 0.2, want: "0"},
		{v: -1.256, step: 0, want: "-1.25"},
		{v: 0.05, step: 0.05, want: "0.05"},
	}

	for _, tt := range tests {
		if got := formatValue(tt.v, tt.step); got != tt.want {
			t.Errorf("formatValue(%v, %v) = %q, want %q", tt.v, tt.step, got, tt.want)
		}
	}
}
