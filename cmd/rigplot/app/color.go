package app

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	hueStart = 236.0
	hueEnd   = 0.0

	seriesSaturation = 0.85
	seriesValue      = 0.80
)

var (
	axisColor = color.Black
	gridColor = color.RGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
)

// seriesPalette spreads n series colors evenly over the blue to red hue range
func seriesPalette(n int) []color.Color {
	palette := make([]color.Color, n)
	if n == 0 {
		return palette
	}

	step := 0.0
	if n > 1 {
		step = (hueStart - hueEnd) / float64(n-1)
	}
	for i := range palette {
		palette[i] = colorful.Hsv(hueStart-float64(i)*step, seriesSaturation, seriesValue)
	}
	return palette
}
