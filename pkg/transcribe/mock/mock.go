// Package mock provides test doubles for the transcribe package.
//
// Model records every window it is asked to transcribe and answers from a
// script. Loader counts loads so tests can verify single-flight behaviour.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// TranscribeCall records one invocation of [Model.Transcribe].
type TranscribeCall struct {
	Samples  int
	Language string
}

// Model is a mock implementation of transcribe.Model.
type Model struct {
	mu sync.Mutex

	// Responses are returned in order, one per call. When exhausted, Text is
	// returned.
	Responses []string

	// Text is the fallback response.
	Text string

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// CloseErr is returned from Close.
	CloseErr error

	Calls      []TranscribeCall
	CloseCount int
}

var _ transcribe.Model = (*Model)(nil)

// Transcribe records the call and returns the next scripted response.
func (m *Model) Transcribe(_ context.Context, samples []float32, language string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, TranscribeCall{Samples: len(samples), Language: language})
	if m.Err != nil {
		return "", m.Err
	}
	if i := len(m.Calls) - 1; i < len(m.Responses) {
		return m.Responses[i], nil
	}
	return m.Text, nil
}

// Close records the call.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCount++
	return m.CloseErr
}

// CallCount returns the number of Transcribe calls.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Closes returns the number of Close calls.
func (m *Model) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CloseCount
}

// Loader hands out Model on every Load.
type Loader struct {
	mu sync.Mutex

	// Model is returned by Load. A nil Model makes Load return a fresh
	// empty *Model.
	Model *Model

	// Err, if non-nil, is returned by Load.
	Err error

	// Delay is slept before returning, to widen race windows in tests.
	Delay time.Duration

	LoadCount int
}

// Load implements transcribe.Loader.
func (l *Loader) Load(ctx context.Context) (transcribe.Model, error) {
	l.mu.Lock()
	l.LoadCount++
	m, err, delay := l.Model, l.Err, l.Delay
	l.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &Model{}
	}
	return m, nil
}

// Loads returns the number of Load calls.
func (l *Loader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.LoadCount
}
