package waveform

import (
	"math"
	"strings"
)

// Height is the default number of rows in a rendered frame.
const Height = 10

// Rule is the glyph used for the flat placeholder line.
const Rule = "─"

var (
	tiers = []string{"·", "░", "▒", "▓", "█", "▄", "▀", "@", "#", "*", "●", "▲", "■"}
	peaks = []string{"@", "#", "*", "●", "▲", "■"}
)

// Render draws frame as height rows of glyphs, top row first, joined by
// newlines. Each bar is smoothed with its neighbours (edges reuse their own
// value), scaled to max(1, floor(smoothed/100*height)) rows and filled with a
// glyph chosen by its relative height. The top filled row of a bar taller
// than 70% of height uses a peak glyph instead. An empty frame renders as a
// single rule line width glyphs wide, the bar count the display uses.
//
// A height <= 0 selects [Height]; a width <= 0 selects [WideBars].
func Render(frame Frame, height, width int) string {
	if len(frame) == 0 {
		if width <= 0 {
			width = WideBars
		}
		return Placeholder(width)
	}
	if height <= 0 {
		height = Height
	}
	heights := make([]int, len(frame))
	for i, v := range frame {
		prev, next := v, v
		if i > 0 {
			prev = frame[i-1]
		}
		if i < len(frame)-1 {
			next = frame[i+1]
		}
		smoothed := (prev + v + next) / 3
		heights[i] = max(1, int(math.Floor(smoothed/100*float64(height))))
	}
	return draw(heights, height)
}

// Processing draws the synthetic "working" wave for animation tick frame
// across width columns. Consecutive ticks produce a travelling wave built
// from three sinusoids; the output for a given (frame, width) never changes.
func Processing(frame, width int) string {
	if width <= 0 {
		return ""
	}
	heights := make([]int, width)
	for i := range width {
		t := float64(frame)*0.1 + float64(i)*0.3
		w1 := math.Sin(t)*3 + 5
		w2 := math.Sin(t*1.5+float64(i)*0.2)*2 + 4
		w3 := math.Sin(t*0.7+float64(i)*0.4)*1.5 + 3
		combined := (w1 + w2 + w3) / 3
		heights[i] = max(1, min(Height, int(math.Floor(combined))))
	}
	return draw(heights, Height)
}

// Placeholder returns a flat rule of width glyphs.
func Placeholder(width int) string {
	if width <= 0 {
		return ""
	}
	return strings.Repeat(Rule, width)
}

// Idle returns rows lines where only the bottom line carries a rule, so a
// display can reserve the same vertical space as a live frame.
func Idle(width, rows int) string {
	if rows <= 1 {
		return Placeholder(width)
	}
	blank := strings.Repeat(" ", max(width, 0))
	lines := make([]string, rows)
	for i := range rows - 1 {
		lines[i] = blank
	}
	lines[rows-1] = Placeholder(width)
	return strings.Join(lines, "\n")
}

func draw(heights []int, height int) string {
	var b strings.Builder
	for line := height; line >= 1; line-- {
		for _, h := range heights {
			if h < line {
				b.WriteByte(' ')
				continue
			}
			b.WriteString(glyph(h, line, height))
		}
		if line > 1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func glyph(barHeight, line, height int) string {
	rel := float64(barHeight) / float64(height)
	if line == barHeight && float64(barHeight) > float64(height)*0.7 {
		return peaks[min(len(peaks)-1, int(math.Floor(rel*float64(len(peaks)))))]
	}
	return tiers[min(len(tiers)-1, int(math.Floor(rel*float64(len(tiers)))))]
}
