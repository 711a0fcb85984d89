// Package waveform turns analyser frequency bins into bar amplitudes and
// renders amplitude frames as multi-line glyph art for terminals.
//
// All functions in this package are pure and safe for concurrent use.
package waveform

const (
	// WideBars is the bar count used on regular-width displays.
	WideBars = 40

	// NarrowBars is the bar count used on narrow displays.
	NarrowBars = 30

	// MinLevel is the floor every bar is clamped to so silence stays visible.
	MinLevel = 5.0

	// MaxLevel is the ceiling of a bar, in percent.
	MaxLevel = 100.0
)

// Frame is one snapshot of bar amplitudes, each in [MinLevel, MaxLevel]
// percent. A zero-length Frame means "no data".
type Frame []float64

// Bars returns the bar count for the display width class.
func Bars(narrow bool) int {
	if narrow {
		return NarrowBars
	}
	return WideBars
}

// Sample partitions bins into bars equal groups of floor(len(bins)/bars)
// consecutive values, averages each group and scales the average to a
// percentage of 255, clamped to [MinLevel, MaxLevel]. Trailing bins that do
// not fill a whole group are ignored. When there are fewer bins than bars each
// group holds a single bin and groups past the end read as zero.
func Sample(bins []uint8, bars int) Frame {
	if bars <= 0 {
		return nil
	}
	step := len(bins) / bars
	if step == 0 {
		step = 1
	}
	frame := make(Frame, bars)
	for i := range bars {
		sum := 0
		for j := range step {
			if idx := i*step + j; idx < len(bins) {
				sum += int(bins[idx])
			}
		}
		level := float64(sum) / float64(step) / 255 * 100
		frame[i] = max(MinLevel, min(MaxLevel, level))
	}
	return frame
}

// Zero returns a frame of bars entries that all read as zero. Recorders
// publish it after a stop so displays drop the last live frame.
func Zero(bars int) Frame {
	if bars <= 0 {
		return nil
	}
	return make(Frame, bars)
}
