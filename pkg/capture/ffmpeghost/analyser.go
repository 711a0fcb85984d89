package ffmpeghost

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/capture"
)

// Decibel range mapped onto 0..255 by ByteFrequencyData.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// analyser keeps the most recent fftSize samples and computes a smoothed,
// Blackman-windowed magnitude spectrum on demand.
type analyser struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64
	window    []float64
	ring      []float64
	pos       int
	smoothed  []float64
	scratch   []complex128
}

var _ capture.Analyser = (*analyser)(nil)

func newAnalyser(cfg capture.AnalyserConfig) (*analyser, error) {
	n := cfg.FFTSize
	if n < 32 || n&(n-1) != 0 {
		return nil, fmt.Errorf("ffmpeghost: fft size %d is not a power of two >= 32", n)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing > 1 {
		return nil, fmt.Errorf("ffmpeghost: smoothing %v outside [0, 1]", cfg.Smoothing)
	}
	a := &analyser{
		fftSize:   n,
		smoothing: cfg.Smoothing,
		window:    blackman(n),
		ring:      make([]float64, n),
		smoothed:  make([]float64, n/2),
		scratch:   make([]complex128, n),
	}
	return a, nil
}

// pcm implements subscriber.
func (a *analyser) pcm(frame []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range audio.Int16ToFloat32(frame) {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// end implements subscriber.
func (a *analyser) end(error) {}

func (a *analyser) FrequencyBinCount() int { return a.fftSize / 2 }

func (a *analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.fftSize {
		s := a.ring[(a.pos+i)%a.fftSize]
		a.scratch[i] = complex(s*a.window[i], 0)
	}
	fft(a.scratch)

	bins := min(len(dst), len(a.smoothed))
	for k := range a.smoothed {
		mag := cmplx.Abs(a.scratch[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
	}
	for k := range bins {
		db := minDecibels
		if v := a.smoothed[k]; v > 0 {
			db = 20 * math.Log10(v)
		}
		scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
		dst[k] = uint8(max(0, min(255, scaled)))
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range n {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform. len(x) must
// be a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := range size / 2 {
				u := x[start+k]
				v := x[start+k+size/2] * w
				x[start+k] = u + v
				x[start+k+size/2] = u - v
				w *= step
			}
		}
	}
}

// graph ties an analyser to a stream subscription.
type graph struct {
	stream   *stream
	analyser *analyser

	mu     sync.Mutex
	subID  int
	closed bool
}

var _ capture.Graph = (*graph)(nil)

func newGraph(s *stream, a *analyser) *graph {
	return &graph{stream: s, analyser: a, subID: s.subscribe(a)}
}

func (g *graph) Analyser() capture.Analyser { return g.analyser }

func (g *graph) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.subID != 0 {
		g.stream.unsubscribe(g.subID)
		g.subID = 0
	}
	return nil
}

func (g *graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("ffmpeghost: graph already closed")
	}
	g.closed = true
	if g.subID != 0 {
		g.stream.unsubscribe(g.subID)
		g.subID = 0
	}
	return nil
}
