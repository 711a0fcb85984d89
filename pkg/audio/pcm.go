// Package audio normalises recorded audio into the canonical form consumed by
// speech models: mono float32 samples in [-1, 1] at [TargetSampleRate].
//
// Canonical WAV input is decoded in-process. Anything else is handed to a
// [Transcoder] (normally ffmpeg) that produces WAV first.
package audio

import (
	"fmt"
	"math"
)

// TargetSampleRate is the sample rate every [Buffer] is delivered at.
const TargetSampleRate = 16000

// PCM is decoded, interleaved float32 audio at its native rate and layout.
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (p PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Int16ToFloat32 scales signed 16-bit samples to float32 in [-1.0, 1.0).
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 quantizes float32 samples to signed 16 bit, clamping values
// outside [-1.0, 1.0].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		out[i] = int16(max(-32768, min(32767, v)))
	}
	return out
}

// Downmix averages the channels of each interleaved frame into one mono
// sample. Mono input is returned unchanged. A trailing partial frame is
// dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// ResampleNearest converts mono samples from srcRate to dstRate by picking
// the nearest source sample for every output position:
//
//	ratio     = srcRate / dstRate
//	outLength = round(len(samples) / ratio)
//	out[i]    = samples[min(round(i*ratio), len(samples)-1)]
//
// No filtering is applied, so downsampling aliases content above the new
// Nyquist frequency. Speech models tolerate this well and the cost stays
// linear in the output length. Equal rates return the input unchanged.
func ResampleNearest(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)
	last := len(samples) - 1
	for i := range n {
		out[i] = samples[min(int(math.Round(float64(i)*ratio)), last)]
	}
	return out
}

// Canonical downmixes and resamples p into a mono [TargetSampleRate] buffer.
func Canonical(p PCM) (Buffer, error) {
	if p.Channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid channel count %d", p.Channels)
	}
	if p.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("audio: invalid sample rate %d", p.SampleRate)
	}
	mono := Downmix(p.Samples, p.Channels)
	return Buffer{
		Samples:        ResampleNearest(mono, p.SampleRate, TargetSampleRate),
		SourceRate:     p.SampleRate,
		SourceChannels: p.Channels,
	}, nil
}

// Buffer is canonical model input: mono float32 samples at
// [TargetSampleRate]. SourceRate and SourceChannels describe the decoded
// input before conversion.
type Buffer struct {
	Samples        []float32
	SourceRate     int
	SourceChannels int
}

// Duration returns the playback length in seconds.
func (b Buffer) Duration() float64 {
	return float64(len(b.Samples)) / TargetSampleRate
}
