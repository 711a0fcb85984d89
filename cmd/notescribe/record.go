package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/pkg/capture"
	"github.com/MrWong99/notescribe/pkg/capture/ffmpeghost"
	"github.com/MrWong99/notescribe/pkg/waveform"
)

// redrawInterval paces the terminal display.
const redrawInterval = 50 * time.Millisecond

// wideMinWidth is the narrowest terminal that still gets the wide waveform.
const wideMinWidth = waveform.WideBars + 4

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	recordingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	processingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	idleStyle       = lipgloss.NewStyle().Faint(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	hintStyle       = lipgloss.NewStyle().Faint(true).Italic(true)
)

func newRecordCmd(g *globals) *cobra.Command {
	var (
		language string
		narrow   bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe when done",
		Long:  "Record from the microphone through ffmpeg with a live waveform. Press Enter to stop; the recording is transcribed and the text printed. Ctrl+C discards the recording.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("narrow") {
				cfg.Capture.Narrow = narrow
			}
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg, config.LogFormatPretty)
			slog.SetDefault(logger)
			return record(cmd.Context(), cfg, language, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&language, "lang", "l", "", "two-letter language hint, or auto")
	cmd.Flags().BoolVar(&narrow, "narrow", false, "draw a narrower waveform")
	return cmd
}

func record(ctx context.Context, cfg *config.Config, language string, in io.Reader, out, display io.Writer) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.Background())

	host := ffmpeghost.New(cfg.Audio.FFmpegPath,
		ffmpeghost.WithInput(cfg.Capture.InputFormat, cfg.Capture.InputDevice))
	recs := a.NewRecordings(host, capture.WithBars(waveform.Bars(cfg.Capture.Narrow)))
	defer recs.Close()

	results, err := recs.Start(ctx, language)
	if err != nil {
		fmt.Fprintln(display, errorStyle.Render(capture.Describe(err)))
		return err
	}

	p := tea.NewProgram(newRecordModel(recs, results, cfg.Capture.Narrow),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(display),
	)
	final, err := p.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("record: display: %w", err)
	}

	m := final.(recordModel)
	switch {
	case m.abandoned:
		fmt.Fprintln(display, idleStyle.Render("recording discarded"))
		return nil
	case m.result == nil:
		return errors.New("record: display ended without a result")
	case m.result.Err != nil:
		fmt.Fprintln(display, errorStyle.Render(capture.Describe(m.result.Err)))
		if errors.Is(m.result.Err, app.ErrRecordingAbandoned) {
			return nil
		}
		return m.result.Err
	}
	fmt.Fprintln(out, m.result.Transcript)
	return nil
}

// session is the part of [app.Recordings] the display drives.
type session interface {
	Snapshot() capture.Snapshot
	Stop() error
	SetBars(n int)
}

type (
	tickMsg   time.Time
	resultMsg app.Result
)

type recordKeys struct {
	stop    key.Binding
	discard key.Binding
}

func defaultRecordKeys() recordKeys {
	return recordKeys{
		// Piped input delivers a bare line feed for Enter.
		stop:    key.NewBinding(key.WithKeys("enter", "ctrl+j"), key.WithHelp("enter", "stop")),
		discard: key.NewBinding(key.WithKeys("ctrl+c", "esc"), key.WithHelp("ctrl+c", "discard")),
	}
}

// recordModel is the bubbletea model of the record command. It redraws from
// the recorder snapshot on every tick and quits once the result arrives.
type recordModel struct {
	sess    session
	results <-chan app.Result
	keys    recordKeys
	spinner spinner.Model

	narrow    bool
	bars      int
	snap      capture.Snapshot
	tick      int
	stopped   bool
	abandoned bool
	result    *app.Result
}

func newRecordModel(sess session, results <-chan app.Result, narrow bool) recordModel {
	return recordModel{
		sess:    sess,
		results: results,
		keys:    defaultRecordKeys(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(processingStyle)),
		narrow:  narrow,
		bars:    waveform.Bars(narrow),
		snap:    capture.Snapshot{State: capture.StateAcquiring},
	}
}

func tick() tea.Cmd {
	return tea.Tick(redrawInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForResult(results <-chan app.Result) tea.Cmd {
	return func() tea.Msg {
		return resultMsg(<-results)
	}
}

func (m recordModel) Init() tea.Cmd {
	return tea.Batch(tick(), waitForResult(m.results), m.spinner.Tick)
}

func (m recordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.sess.Snapshot()
		if busy(m.snap.State) {
			m.tick++
		}
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.stop):
			if !m.stopped {
				m.stopped = true
				if err := m.sess.Stop(); err != nil {
					slog.Warn("stop recording", "err", err)
				}
			}
		case key.Matches(msg, m.keys.discard):
			m.abandoned = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bars = waveform.Bars(m.narrow || msg.Width < wideMinWidth)
		m.sess.SetBars(m.bars)
		return m, nil

	case resultMsg:
		res := app.Result(msg)
		m.result = &res
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m recordModel) View() string {
	if m.result != nil || m.abandoned {
		return ""
	}
	var body string
	switch {
	case m.snap.State == capture.StateRecording:
		wave := waveform.Render(m.snap.Frame, waveform.Height, m.bars)
		if len(m.snap.Frame) == 0 {
			wave = waveform.Idle(m.bars, waveform.Height)
		}
		body = recordingStyle.Render(wave)
	case busy(m.snap.State):
		body = processingStyle.Render(waveform.Processing(m.tick, m.bars))
	default:
		body = idleStyle.Render(waveform.Idle(m.bars, waveform.Height))
	}

	header := titleStyle.Render(fmt.Sprintf("● %s  %s", label(m.snap.State), clock(m.snap.Elapsed)))
	hint := hintStyle.Render(fmt.Sprintf("press %s to %s, %s to %s",
		m.keys.stop.Help().Key, m.keys.stop.Help().Desc,
		m.keys.discard.Help().Key, m.keys.discard.Help().Desc))
	switch {
	case busy(m.snap.State):
		hint = m.spinner.View() + hintStyle.Render(" transcribing…")
	case m.snap.State == capture.StateAcquiring:
		hint = hintStyle.Render("opening microphone…")
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, body, hint) + "\n"
}

func busy(st capture.State) bool {
	return st == capture.StateStopping || st == capture.StateProcessing
}

func label(st capture.State) string {
	switch st {
	case capture.StateAcquiring:
		return "starting"
	case capture.StateRecording:
		return "recording"
	case capture.StateStopping, capture.StateProcessing:
		return "processing"
	default:
		return strings.ToLower(string(st))
	}
}

// clock formats whole seconds as m:ss.
func clock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
