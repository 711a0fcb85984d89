package main

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/pkg/capture"
	"github.com/MrWong99/notescribe/pkg/waveform"
)

// fakeSession is a hand-written session for driving the record display.
type fakeSession struct {
	mu      sync.Mutex
	snap    capture.Snapshot
	stopErr error
	stops   int
	bars    []int
}

func (f *fakeSession) Snapshot() capture.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeSession) SetBars(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bars = append(f.bars, n)
}

func update(t *testing.T, m recordModel, msg tea.Msg) (recordModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	rm, ok := next.(recordModel)
	if !ok {
		t.Fatalf("Update returned %T, want recordModel", next)
	}
	return rm, cmd
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestRecordModel_TickRedrawsFromSnapshot(t *testing.T) {
	sess := &fakeSession{snap: capture.Snapshot{
		State:   capture.StateRecording,
		Elapsed: 65,
		Frame:   waveform.Frame{100, 100, 100},
	}}
	m := newRecordModel(sess, nil, false)

	m, cmd := update(t, m, tickMsg(time.Now()))
	if cmd == nil {
		t.Fatal("tick did not schedule the next tick")
	}
	view := m.View()
	if !strings.Contains(view, "recording") || !strings.Contains(view, "1:05") {
		t.Errorf("view = %q, want recording state and 1:05", view)
	}
	if !strings.Contains(view, "■") {
		t.Errorf("view = %q, want the full-height peak glyph", view)
	}
}

func TestRecordModel_ProcessingAnimates(t *testing.T) {
	sess := &fakeSession{snap: capture.Snapshot{State: capture.StateProcessing}}
	m := newRecordModel(sess, nil, false)

	m, _ = update(t, m, tickMsg(time.Now()))
	first := m.View()
	for range 5 {
		m, _ = update(t, m, tickMsg(time.Now()))
	}
	if m.tick != 6 {
		t.Errorf("tick = %d, want 6", m.tick)
	}
	if m.View() == first {
		t.Error("processing wave did not move between ticks")
	}
	if !strings.Contains(first, "transcribing") {
		t.Errorf("view = %q, want transcribing hint", first)
	}
}

func TestRecordModel_EnterStopsOnce(t *testing.T) {
	sess := &fakeSession{stopErr: errors.New("already stopping")}
	m := newRecordModel(sess, nil, false)

	for range 2 {
		var cmd tea.Cmd
		m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		if isQuit(cmd) {
			t.Fatal("Enter quit the display before the result arrived")
		}
	}
	if sess.stops != 1 {
		t.Errorf("Stop calls = %d, want 1", sess.stops)
	}
	if m.abandoned {
		t.Error("Enter marked the recording abandoned")
	}
}

func TestRecordModel_CtrlCDiscards(t *testing.T) {
	sess := &fakeSession{}
	m := newRecordModel(sess, nil, false)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if !isQuit(cmd) {
		t.Fatal("ctrl+c did not quit")
	}
	if !m.abandoned || sess.stops != 0 {
		t.Errorf("abandoned = %v, stops = %d", m.abandoned, sess.stops)
	}
	if m.View() != "" {
		t.Errorf("view after discard = %q, want empty", m.View())
	}
}

func TestRecordModel_ResultQuits(t *testing.T) {
	m := newRecordModel(&fakeSession{}, nil, false)

	m, cmd := update(t, m, resultMsg(app.Result{Transcript: "hello world"}))
	if !isQuit(cmd) {
		t.Fatal("result did not quit")
	}
	if m.result == nil || m.result.Transcript != "hello world" {
		t.Errorf("result = %+v", m.result)
	}
}

func TestRecordModel_WaitForResult(t *testing.T) {
	results := make(chan app.Result, 1)
	results <- app.Result{ID: "r1", Transcript: "hi"}
	msg := waitForResult(results)()
	if res, ok := msg.(resultMsg); !ok || res.ID != "r1" {
		t.Errorf("msg = %#v, want resultMsg r1", msg)
	}
}

func TestRecordModel_WindowSizePicksBars(t *testing.T) {
	tests := []struct {
		name   string
		narrow bool
		width  int
		want   int
	}{
		{"wide terminal", false, 120, waveform.WideBars},
		{"narrow terminal", false, 32, waveform.NarrowBars},
		{"narrow forced", true, 120, waveform.NarrowBars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{}
			m := newRecordModel(sess, nil, tt.narrow)

			m, _ = update(t, m, tea.WindowSizeMsg{Width: tt.width, Height: 24})
			if m.bars != tt.want {
				t.Errorf("bars = %d, want %d", m.bars, tt.want)
			}
			if len(sess.bars) != 1 || sess.bars[0] != tt.want {
				t.Errorf("SetBars calls = %v, want [%d]", sess.bars, tt.want)
			}
			lines := strings.Split(m.View(), "\n")
			rule := lines[len(lines)-3]
			if !strings.Contains(rule, strings.Repeat(waveform.Rule, tt.want)) ||
				strings.Contains(rule, strings.Repeat(waveform.Rule, tt.want+1)) {
				t.Errorf("idle rule = %q, want %d glyphs", rule, tt.want)
			}
		})
	}
}

func TestClock(t *testing.T) {
	tests := map[int]string{0: "0:00", 9: "0:09", 61: "1:01", 600: "10:00"}
	for in, want := range tests {
		if got := clock(in); got != want {
			t.Errorf("clock(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestLabel(t *testing.T) {
	tests := map[capture.State]string{
		capture.StateAcquiring:  "starting",
		capture.StateRecording:  "recording",
		capture.StateStopping:   "processing",
		capture.StateProcessing: "processing",
		capture.StateDone:       "done",
	}
	for st, want := range tests {
		if got := label(st); got != want {
			t.Errorf("label(%s) = %q, want %q", st, got, want)
		}
	}
}
