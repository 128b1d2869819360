// Package export renders a board frame for consumers outside the
// interactive view: SVG and CSV directly, PNG and PDF through a headless
// Chromium.
package export

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"planboard/internal/board"
	"planboard/internal/timescale"
)

// Options controls the SVG drawing. Zero fields take the defaults below.
type Options struct {
	Title        string
	LabelWidth   float64
	HeaderHeight float64
	FontFamily   string
	FontSize     int
	Background   string
	GridColor    string
	TextColor    string
	EventColor   string
}

func DefaultOptions() Options {
	return Options{
		LabelWidth:   140,
		HeaderHeight: 40,
		FontFamily:   "Arial, sans-serif",
		FontSize:     12,
		Background:   "#ffffff",
		GridColor:    "#e0e0e0",
		TextColor:    "#333333",
		EventColor:   "#4285f4",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LabelWidth <= 0 {
		o.LabelWidth = d.LabelWidth
	}
	if o.HeaderHeight <= 0 {
		o.HeaderHeight = d.HeaderHeight
	}
	if o.FontFamily == "" {
		o.FontFamily = d.FontFamily
	}
	if o.FontSize <= 0 {
		o.FontSize = d.FontSize
	}
	if o.Background == "" {
		o.Background = d.Background
	}
	if o.GridColor == "" {
		o.GridColor = d.GridColor
	}
	if o.TextColor == "" {
		o.TextColor = d.TextColor
	}
	if o.EventColor == "" {
		o.EventColor = d.EventColor
	}
	return o
}

// Size is the pixel size of the SVG drawn for f.
func Size(f board.Frame, opts Options) (width, height float64) {
	opts = opts.withDefaults()
	return opts.LabelWidth + f.Width, opts.HeaderHeight + float64(len(f.Resources))*f.RowHeight
}

// SVG draws the frame: lane labels on the left, a two-row time header and
// one rectangle per placed event. Items with an unconfirmed write are drawn
// dashed. Orphans have no lane and are left out.
func SVG(f board.Frame, scale timescale.Scale, opts Options) string {
	opts = opts.withDefaults()
	width, height := Size(f, opts)
	left, top := opts.LabelWidth, opts.HeaderHeight

	var svg strings.Builder
	fmt.Fprintf(&svg, `<?xml version="1.0" encoding="UTF-8"?>
<svg width="%s" height="%s" viewBox="0 0 %s %s" xmlns="http://www.w3.org/2000/svg" font-family="%s" font-size="%d">
<rect width="100%%" height="100%%" fill="%s"/>
`, num(width), num(height), num(width), num(height), escapeXML(opts.FontFamily), opts.FontSize, opts.Background)
	if opts.Title != "" {
		fmt.Fprintf(&svg, "<title>%s</title>\n", escapeXML(opts.Title))
	}

	// Lanes.
	for i, r := range f.Resources {
		y := top + float64(i)*f.RowHeight
		if i%2 == 1 {
			fmt.Fprintf(&svg, `<rect x="0" y="%s" width="%s" height="%s" fill="%s" fill-opacity="0.35"/>`+"\n",
				num(y), num(width), num(f.RowHeight), opts.GridColor)
		}
		fmt.Fprintf(&svg, `<text x="8" y="%s" dominant-baseline="middle" fill="%s">%s</text>`+"\n",
			num(y+f.RowHeight/2), opts.TextColor, escapeXML(r.Name))
	}

	// Header and grid.
	for _, t := range f.Ticks {
		x := left + scale.ToPixel(t)
		fmt.Fprintf(&svg, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="1"/>`+"\n",
			num(x), num(top/2), num(x), num(height), opts.GridColor)
		fmt.Fprintf(&svg, `<text x="%s" y="%s" fill="%s">%s</text>`+"\n",
			num(x+3), num(top-6), opts.TextColor, escapeXML(minorLabel(f.Preset, t)))
	}
	for _, t := range f.MajorTicks {
		x := left + scale.ToPixel(t)
		fmt.Fprintf(&svg, `<line x1="%s" y1="0" x2="%s" y2="%s" stroke="%s" stroke-width="2"/>`+"\n",
			num(x), num(x), num(height), opts.TextColor)
		fmt.Fprintf(&svg, `<text x="%s" y="%s" font-weight="bold" fill="%s">%s</text>`+"\n",
			num(x+4), num(top/2-6), opts.TextColor, escapeXML(majorLabel(f.Preset, t)))
	}
	fmt.Fprintf(&svg, `<line x1="%s" y1="0" x2="%s" y2="%s" stroke="%s" stroke-width="1"/>`+"\n",
		num(left), num(left), num(height), opts.TextColor)

	// Events.
	for _, ev := range f.Events {
		p, ok := f.Positions[ev.ID]
		if !ok {
			continue
		}
		fill := ev.Color
		if fill == "" {
			fill = opts.EventColor
		}
		dash := ""
		if slices.Contains(f.Pending, ev.SourceItemID) {
			dash = ` stroke-dasharray="4 2"`
		}
		x, y := left+p.X, top+p.Y
		fmt.Fprintf(&svg, `<g id="%s">`+"\n", escapeXML(ev.ID))
		fmt.Fprintf(&svg, `<title>%s %s-%s</title>`+"\n",
			escapeXML(ev.Meta.Title), ev.Start.Format("2006-01-02 15:04"), ev.End.Format("15:04"))
		fmt.Fprintf(&svg, `<rect x="%s" y="%s" width="%s" height="%s" rx="3" fill="%s" fill-opacity="0.85" stroke="%s"%s/>`+"\n",
			num(x), num(y), num(p.Width), num(p.Height), escapeXML(fill), opts.TextColor, dash)
		if label := fit(ev.Meta.Title, p.Width, opts.FontSize); label != "" {
			fmt.Fprintf(&svg, `<text x="%s" y="%s" dominant-baseline="middle" fill="#ffffff">%s</text>`+"\n",
				num(x+4), num(y+p.Height/2), escapeXML(label))
		}
		svg.WriteString("</g>\n")
	}

	svg.WriteString("</svg>\n")
	return svg.String()
}

func minorLabel(p timescale.Preset, t time.Time) string {
	switch p {
	case timescale.HourAndDay:
		return t.Format("15")
	case timescale.DayAndWeek:
		return t.Format("Mon 2")
	case timescale.WeekAndMonth:
		_, w := t.ISOWeek()
		return fmt.Sprintf("W%d", w)
	default:
		return t.Format("Jan")
	}
}

func majorLabel(p timescale.Preset, t time.Time) string {
	switch p {
	case timescale.HourAndDay:
		return t.Format("Mon 2 Jan 2006")
	case timescale.DayAndWeek:
		_, w := t.ISOWeek()
		return fmt.Sprintf("Week %d, %s", w, t.Format("Jan 2006"))
	case timescale.WeekAndMonth:
		return t.Format("January 2006")
	default:
		return t.Format("2006")
	}
}

// fit truncates s to what roughly fits in width at the given font size.
func fit(s string, width float64, fontSize int) string {
	avail := int((width - 8) / (float64(fontSize) * 0.6))
	if avail <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= avail {
		return s
	}
	if avail <= 1 {
		return ""
	}
	return string(r[:avail-1]) + "…"
}

func num(v float64) string { return fmt.Sprintf("%.2f", v) }

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
