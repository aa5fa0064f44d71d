package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi             = 72.0
	fontSize        = 13.0
	tickMarkLength  = 5
	pixelsPerXLabel = 150.0
	pixelsPerYLabel = 60.0
	swatchSize      = 12
	legendSpacing   = 24
	dotRadius       = 1

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 80
	defaultBottomBorder = 60
	defaultRightBorder  = 40

	defaultTimeFormat     = "15:04:05"
	defaultLongTimeFormat = "01-02 15:04"
	defaultDatetimeFormat = time.DateTime
)

var ErrNoData = errors.New("nothing to plot")

// BorderConfig defines the sizes of white space around the plot area
type BorderConfig struct {
	Top    int // Space for the legend
	Left   int // Space for the value scale
	Bottom int // Space for the time scale and information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for chart rendering
type RenderConfig struct {
	Width, Height int // Full image size

	// Time display configuration
	TimeFormat     string         // Time scale labels for spans up to a day
	LongTimeFormat string         // Time scale labels for longer spans
	DatetimeFormat string         // Information bar date/time
	Location       *time.Location // Timezone for time display

	FontSize float64

	BorderConfig BorderConfig
}

// ChartRenderer draws channel series as line charts over a shared time axis
type ChartRenderer struct {
	config RenderConfig
}

func NewChartRenderer(config RenderConfig) (*ChartRenderer, error) {
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.LongTimeFormat == "" {
		config.LongTimeFormat = defaultLongTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	b := config.BorderConfig
	if config.Width-b.Left-b.Right < 2 || config.Height-b.Top-b.Bottom < 2 {
		return nil, fmt.Errorf("image %dx%d leaves no room for the plot area", config.Width, config.Height)
	}

	return &ChartRenderer{config: config}, nil
}

// Render creates an image of the chart with scales, legend and information bar
func (r *ChartRenderer) Render(chart *ChartData) (*image.RGBA, error) {
	if chart.Points() == 0 {
		return nil, ErrNoData
	}

	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	p := r.newProjection(chart)

	ann, err := newAnnotator(annotatorConfig{
		TimeFormat:     r.config.TimeFormat,
		LongTimeFormat: r.config.LongTimeFormat,
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontSize:       r.config.FontSize,
		Borders:        r.config.BorderConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	palette := seriesPalette(len(chart.Series))

	// grid and scales first, series lines on top
	if err = ann.annotate(img, chart, p, palette); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	r.renderSeries(img, chart, p, palette)

	return img, nil
}

func (r *ChartRenderer) renderSeries(img *image.RGBA, chart *ChartData, p projection, palette []color.Color) {
	for i, series := range chart.Series {
		c := palette[i]
		for _, segment := range series.Segments {
			if len(segment) == 1 {
				x, y := p.point(segment[0])
				drawDot(img, x, y, c)
				continue
			}
			for j := 1; j < len(segment); j++ {
				x0, y0 := p.point(segment[j-1])
				x1, y1 := p.point(segment[j])
				drawLine(img, x0, y0, x1, y1, c)
			}
		}
	}
}

// projection maps time and value onto plot area pixels
type projection struct {
	area       image.Rectangle
	start, end time.Time
	bounds     ValueBounds
}

func (r *ChartRenderer) newProjection(chart *ChartData) projection {
	b := r.config.BorderConfig

	start, end := chart.TimestampStart, chart.TimestampEnd
	if !end.After(start) {
		start, end = start.Add(-time.Second), end.Add(time.Second)
	}

	return projection{
		area:   image.Rect(b.Left, b.Top, r.config.Width-b.Right, r.config.Height-b.Bottom),
		start:  start,
		end:    end,
		bounds: chart.Bounds.Span(),
	}
}

func (p projection) x(t time.Time) int {
	ratio := float64(t.Sub(p.start)) / float64(p.end.Sub(p.start))
	return p.area.Min.X + int(math.Round(ratio*float64(p.area.Dx()-1)))
}

func (p projection) y(v float64) int {
	ratio := (v - p.bounds.Min) / (p.bounds.Max - p.bounds.Min)
	return p.area.Max.Y - 1 - int(math.Round(ratio*float64(p.area.Dy()-1)))
}

func (p projection) point(pt Point) (int, int) {
	return p.x(pt.At), p.y(pt.Value)
}

// drawLine draws a one pixel line using Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawDot(img *image.RGBA, x, y int, c color.Color) {
	for dy := -dotRadius; dy <= dotRadius; dy++ {
		for dx := -dotRadius; dx <= dotRadius; dx++ {
			img.Set(x+dx, y+dy, c)
		}
	}
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.Color) {
	draw.Draw(img, rect, image.NewUniform(c), image.Point{}, draw.Src)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Internal annotator implementation
type annotatorConfig struct {
	TimeFormat     string
	LongTimeFormat string
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, chart *ChartData, p projection, palette []color.Color) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing value scale", func() error { return a.drawValueScale(img, p) }},
		{"drawing time scale", func() error { return a.drawTimeScale(img, p) }},
		{"drawing legend", func() error { return a.drawLegend(img, chart, palette) }},
		{"drawing info bar", func() error { return a.drawInfoBar(img, chart) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	// plot frame
	area := p.area
	drawLine(img, area.Min.X-1, area.Min.Y, area.Min.X-1, area.Max.Y, axisColor)
	drawLine(img, area.Min.X-1, area.Max.Y, area.Max.X, area.Max.Y, axisColor)

	return nil
}

func (a *annotator) textHeight() (height, descent int) {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round(), metrics.Descent.Round()
}

func (a *annotator) drawValueScale(img *image.RGBA, p projection) error {
	step := calculateNiceValueStep(p.bounds.Max-p.bounds.Min, p.area.Dy())
	fontHeight, descent := a.textHeight()

	for v := math.Ceil(p.bounds.Min/step) * step; v <= p.bounds.Max; v += step {
		y := p.y(v)

		for x := p.area.Min.X; x < p.area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
		for x := p.area.Min.X - tickMarkLength; x < p.area.Min.X; x++ {
			img.Set(x, y, axisColor)
		}

		label := formatValue(v, step)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(p.area.Min.X-tickMarkLength-3-width, y+fontHeight/2-descent)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing value label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, p projection) error {
	duration := p.end.Sub(p.start)
	step := calculateNiceTimeStep(duration, p.area.Dx())

	layout := a.config.TimeFormat
	if duration > 24*time.Hour {
		layout = a.config.LongTimeFormat
	}

	fontHeight, _ := a.textHeight()
	textY := p.area.Max.Y + tickMarkLength + fontHeight

	for t := alignTime(p.start, step, a.config.Location); !t.After(p.end); t = t.Add(step) {
		x := p.x(t)

		for y := p.area.Min.Y; y < p.area.Max.Y; y++ {
			img.Set(x, y, gridColor)
		}
		for y := p.area.Max.Y; y < p.area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, axisColor)
		}

		label := t.In(a.config.Location).Format(layout)
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawLegend(img *image.RGBA, chart *ChartData, palette []color.Color) error {
	fontHeight, descent := a.textHeight()

	x := a.config.Borders.Left
	centerY := a.config.Borders.Top / 2

	for i, series := range chart.Series {
		swatch := image.Rect(x, centerY-swatchSize/2, x+swatchSize, centerY+swatchSize/2)
		fillRect(img, swatch, palette[i])
		x += swatchSize + 6

		label := series.Field.Label
		if series.Count == 0 {
			label += " (no data)"
		}
		if _, err := a.context.DrawString(label, freetype.Pt(x, centerY+fontHeight/2-descent)); err != nil {
			return fmt.Errorf("drawing legend label: %w", err)
		}
		x += font.MeasureString(a.fontFace, label).Round() + legendSpacing
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, chart *ChartData) error {
	loc := a.config.Location
	info := fmt.Sprintf("Time: %s - %s; Samples: %s; Values: %s .. %s",
		chart.TimestampStart.In(loc).Format(a.config.DatetimeFormat),
		chart.TimestampEnd.In(loc).Format(a.config.DatetimeFormat),
		formatCount(chart.Samples),
		formatValue(chart.Bounds.Min, 0),
		formatValue(chart.Bounds.Max, 0))

	_, descent := a.textHeight()
	textY := img.Bounds().Max.Y - descent - 6

	if _, err := a.context.DrawString(info, freetype.Pt(a.config.Borders.Left, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}
