package artifact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/pkg/timefmt"
)

const (
	previewWidth  = 640
	previewMargin = 16
	lineHeight    = 18
	maxPlantLines = 12
)

var (
	previewBackground = color.RGBA{0xf4, 0xf7, 0xf1, 0xff}
	previewHeader     = color.RGBA{0x2e, 0x7d, 0x32, 0xff}
	previewText       = color.RGBA{0x21, 0x21, 0x21, 0xff}
)

type previewLine struct {
	text   string
	header bool
}

// previewLines lays out the summary card content.
func previewLines(cfg entities.Configuration, now time.Time) []previewLine {
	var lines []previewLine
	head := func(s string) { lines = append(lines, previewLine{text: s, header: true}) }
	text := func(format string, args ...any) {
		lines = append(lines, previewLine{text: fmt.Sprintf(format, args...)})
	}

	head("AGRIBOT configuration")
	text("generated %s", timefmt.Timestamp(now))

	head("Models")
	for _, k := range entities.ModelKinds {
		v := cfg.ModelVersion(k)
		if v == "" {
			v = "-"
		}
		text("%-20s %-12s threshold %.2f", k, v, cfg.Confidence(k))
	}

	head("Sprays")
	for i := 0; i < len(cfg.Sprays.Spray); i++ {
		state := "off"
		if i < len(cfg.Sprays.Active) && cfg.Sprays.Active[i] {
			state = "on"
		}
		d := 0
		if i < len(cfg.Sprays.Duration) {
			d = cfg.Sprays.Duration[i]
		}
		name := cfg.Sprays.Spray[i]
		if name == "" {
			name = "(none)"
		}
		text("channel %d  %-24s %-3s %d min", i+1, name, state, d)
	}

	head("Schedule")
	text("frequency %s", cfg.Schedule.Frequency)
	days := "every day"
	if len(cfg.Schedule.Days) > 0 {
		days = strings.Join(cfg.Schedule.Days, ", ")
	}
	text("days %s", days)
	for _, r := range cfg.Schedule.Runs {
		text("run %s - %s", r.Time, r.Upto)
	}

	head(fmt.Sprintf("Detected plants (%d)", len(cfg.DetectedPlants)))
	for i, p := range cfg.DetectedPlants {
		if i == maxPlantLines {
			text("... %d more", len(cfg.DetectedPlants)-maxPlantLines)
			break
		}
		flags := ""
		if p.Disabled {
			flags += " disabled"
		}
		if p.WillSprayEarly {
			flags += " early"
		}
		text("%-20s %s%s", p.Key, p.Timestamp, flags)
	}
	return lines
}

// RenderPreview draws a summary card of cfg and returns it PNG encoded.
// The result is a valid base for Encode.
func RenderPreview(cfg entities.Configuration, now time.Time) ([]byte, error) {
	lines := previewLines(cfg, now)
	height := 2*previewMargin + len(lines)*lineHeight

	img := image.NewRGBA(image.Rect(0, 0, previewWidth, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(previewBackground), image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	for i, l := range lines {
		src := previewText
		x := previewMargin + 8
		if l.header {
			src = previewHeader
			x = previewMargin
		}
		d.Src = image.NewUniform(src)
		d.Dot = fixed.P(x, previewMargin+(i+1)*lineHeight-4)
		d.DrawString(l.text)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("artifact: render preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Build renders a preview of cfg and embeds cfg in it.
func Build(cfg entities.Configuration, now time.Time) ([]byte, error) {
	base, err := RenderPreview(cfg, now)
	if err != nil {
		return nil, err
	}
	return Encode(cfg, base)
}
