package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/internal/config"
	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/internal/resilience"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/capture"
	capturemock "github.com/MrWong99/notescribe/pkg/capture/mock"
	"github.com/MrWong99/notescribe/pkg/transcribe"
	"github.com/MrWong99/notescribe/pkg/transcribe/mock"
	"github.com/MrWong99/notescribe/pkg/waveform"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

// fakeTranscoder turns every input into the same WAV.
type fakeTranscoder struct {
	out   []byte
	err   error
	calls int
}

func (f *fakeTranscoder) ToWAV(_ context.Context, _ []byte, _ string) ([]byte, error) {
	f.calls++
	return f.out, f.err
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterSum returns the sum of all data points of the named int64 counter
// whose attributes contain key=value.
func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: data type %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func wavFixture(t *testing.T, seconds float64) []byte {
	t.Helper()
	samples := make([]float32, int(seconds*16000))
	for i := range samples {
		samples[i] = 0.1
	}
	data, err := audio.EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

type fixture struct {
	app     *app.App
	model   *mock.Model
	loader  *mock.Loader
	reader  *sdkmetric.ManualReader
	coder   *fakeTranscoder
	cfg     *config.Config
	metrics *observe.Metrics
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Server.MaxUploadMB = 1
	m, reader := newTestMetrics(t)
	f := &fixture{
		model:   &mock.Model{Text: "hello world"},
		reader:  reader,
		cfg:     cfg,
		metrics: m,
	}
	f.loader = &mock.Loader{Model: f.model}
	f.coder = &fakeTranscoder{out: wavFixture(t, 0.5)}
	base := []app.Option{
		app.WithLoader(f.loader.Load),
		app.WithTranscoder(f.coder),
		app.WithMetrics(m),
	}
	a, err := app.New(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

// ── New ──────────────────────────────────────────────────────────────────────

func TestNew_DoesNotLoadModel(t *testing.T) {
	f := newFixture(t)
	if f.loader.Loads() != 0 {
		t.Errorf("loads = %d, want 0 before first transcription", f.loader.Loads())
	}
	if f.app.Pipeline().Loaded() {
		t.Error("pipeline reports a loaded model")
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Name = "nope"
	_, err := app.New(context.Background(), cfg, app.WithTranscoder(&fakeTranscoder{}))
	if !errors.Is(err, config.ErrModelNotRegistered) {
		t.Fatalf("err = %v, want ErrModelNotRegistered", err)
	}
}

func TestDefaultRegistry_Names(t *testing.T) {
	got := strings.Join(app.DefaultRegistry().Names(), ",")
	if got != "whisper-native,whisper-server" {
		t.Errorf("Names = %q", got)
	}
}

// ── Transcribe ───────────────────────────────────────────────────────────────

func TestTranscribe_WAVSkipsTranscoder(t *testing.T) {
	f := newFixture(t)

	text, err := f.app.Transcribe(context.Background(), wavFixture(t, 1), "audio/wav", "de")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if f.coder.calls != 0 {
		t.Errorf("transcoder calls = %d, want 0", f.coder.calls)
	}
	if len(f.model.Calls) != 1 || f.model.Calls[0].Language != "de" || f.model.Calls[0].Samples != 16000 {
		t.Errorf("model calls = %+v", f.model.Calls)
	}
	if got := counterSum(t, f.reader, "notescribe.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
}

func TestTranscribe_CompressedGoesThroughTranscoder(t *testing.T) {
	f := newFixture(t)

	if _, err := f.app.Transcribe(context.Background(), []byte("OggS..."), "audio/ogg;codecs=opus", ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if f.coder.calls != 1 {
		t.Errorf("transcoder calls = %d, want 1", f.coder.calls)
	}
	if got := f.model.Calls[0].Samples; got != 8000 {
		t.Errorf("samples = %d, want 8000", got)
	}
}

func TestTranscribe_DecodeFailure(t *testing.T) {
	f := newFixture(t)
	f.coder.err = errors.New("ffmpeg exited 1")

	_, err := f.app.Transcribe(context.Background(), []byte("junk"), "audio/webm", "")
	if !errors.Is(err, audio.ErrDecodeFailed) {
		t.Fatalf("err = %v, want ErrDecodeFailed", err)
	}
	if f.loader.Loads() != 0 {
		t.Errorf("model loaded for undecodable input")
	}
	if got := counterSum(t, f.reader, "notescribe.errors", "kind", "decode_failed"); got != 1 {
		t.Errorf("decode_failed errors = %d, want 1", got)
	}
}

func TestTranscribe_EmptyTranscript(t *testing.T) {
	f := newFixture(t)
	f.model.Text = "   "

	_, err := f.app.Transcribe(context.Background(), wavFixture(t, 0.2), "audio/wav", "")
	if !errors.Is(err, transcribe.ErrEmptyTranscript) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
}

func TestTranscribe_FailingModelOpensBreaker(t *testing.T) {
	f := newFixture(t)
	f.model.Err = errors.New("server returned 500")
	ctx := context.Background()
	data := wavFixture(t, 0.2)

	for range 3 {
		if _, err := f.app.Transcribe(ctx, data, "audio/wav", ""); err == nil {
			t.Fatal("expected model error")
		}
	}
	_, err := f.app.Transcribe(ctx, data, "audio/wav", "")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if f.model.CallCount() != 3 {
		t.Errorf("model calls = %d, want 3", f.model.CallCount())
	}
	if app.ErrorKind(err) != "model_unavailable" {
		t.Errorf("kind = %q", app.ErrorKind(err))
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", audio.ErrDecodeFailed), "decode_failed"},
		{transcribe.ErrEmptyTranscript, "empty_transcript"},
		{context.Canceled, "cancelled"},
		{capture.ErrPermissionDenied, "permission_denied"},
		{capture.ErrDeviceBusy, "device_busy"},
		{capture.ErrDeviceNotFound, "device_not_found"},
		{capture.ErrEncoderFailed, "encoder_failed"},
		{resilience.ErrCircuitOpen, "model_unavailable"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := app.ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// ── Config reload ────────────────────────────────────────────────────────────

func TestApplyConfig_LanguageAndLevel(t *testing.T) {
	level := new(slog.LevelVar)
	f := newFixture(t, app.WithLogLevel(level))

	next := *f.cfg
	next.Model.Language = "fr"
	next.Server.LogLevel = config.LogDebug
	f.app.ApplyConfig(f.cfg, &next)

	if got := f.app.Pipeline().Language(); got != "fr" {
		t.Errorf("language = %q, want fr", got)
	}
	if level.Level() != app.ParseLevel(config.LogDebug) {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if f.app.Config() != &next {
		t.Error("Config() not updated")
	}
}

func TestApplyConfig_ModelSwap(t *testing.T) {
	first := &mock.Model{Text: "first"}
	second := &mock.Model{Text: "second"}
	reg := config.NewRegistry()
	reg.RegisterModel("fake", func(e config.ModelEntry) (transcribe.Loader, error) {
		m := first
		if e.Model == "b" {
			m = second
		}
		return (&mock.Loader{Model: m}).Load, nil
	})

	cfg := config.Default()
	cfg.Model.Name, cfg.Model.Model = "fake", "a"
	m, _ := newTestMetrics(t)
	a, err := app.New(context.Background(), cfg,
		app.WithRegistry(reg), app.WithMetrics(m), app.WithTranscoder(&fakeTranscoder{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx := context.Background()
	data := wavFixture(t, 0.2)
	if text, _ := a.Transcribe(ctx, data, "audio/wav", ""); text != "first" {
		t.Fatalf("text = %q, want first", text)
	}

	next := *cfg
	next.Model.Model = "b"
	a.ApplyConfig(cfg, &next)

	if first.Closes() != 1 {
		t.Errorf("old model closes = %d, want 1", first.Closes())
	}
	if text, _ := a.Transcribe(ctx, data, "audio/wav", ""); text != "second" {
		t.Fatalf("text = %q, want second", text)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want string
	}{
		{config.LogDebug, "DEBUG"},
		{config.LogInfo, "INFO"},
		{config.LogWarn, "WARN"},
		{config.LogError, "ERROR"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		if got := app.ParseLevel(tt.in).String(); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

func TestShutdown_ClosesModel(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.Transcribe(context.Background(), wavFixture(t, 0.2), "audio/wav", ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.model.Closes() != 1 {
		t.Errorf("closes = %d, want 1", f.model.Closes())
	}
	// Idempotent.
	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if f.model.Closes() != 1 {
		t.Errorf("closes after second shutdown = %d, want 1", f.model.Closes())
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// ── HTTP ─────────────────────────────────────────────────────────────────────

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename == "" {
			if err := w.WriteField(p.field, string(p.data)); err != nil {
				t.Fatal(err)
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := pw.Write(p.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/transcribe", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandler_Transcribe(t *testing.T) {
	f := newFixture(t)
	h := f.app.Handler()
	wav := wavFixture(t, 0.2)

	tests := []struct {
		name       string
		parts      []part
		modelText  string
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{
			name:       "success",
			parts:      []part{{field: "audio", filename: "recording.wav", contentType: "audio/wav", data: wav}},
			wantStatus: http.StatusOK,
			wantKey:    "transcript",
			wantValue:  "hello world",
		},
		{
			name:       "missing audio",
			parts:      []part{{field: "language", data: []byte("en")}},
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "Audio file is required",
		},
		{
			name:       "not audio",
			parts:      []part{{field: "audio", filename: "notes.txt", contentType: "text/plain", data: []byte("hi")}},
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "File must be an audio file",
		},
		{
			name: "bad language",
			parts: []part{
				{field: "audio", filename: "r.wav", contentType: "audio/wav", data: wav},
				{field: "language", data: []byte("english")},
			},
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
			wantValue:  "Invalid language",
		},
		{
			name:       "empty transcript",
			parts:      []part{{field: "audio", filename: "r.wav", contentType: "audio/wav", data: wav}},
			modelText:  " ",
			wantStatus: http.StatusUnprocessableEntity,
			wantKey:    "kind",
			wantValue:  "empty_transcript",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.model.Text = "hello world"
			if tt.modelText != "" {
				f.model.Text = tt.modelText
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, multipartRequest(t, tt.parts...))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decode(t, rec)[tt.wantKey]; got != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantKey, got, tt.wantValue)
			}
		})
	}
}

func TestHandler_LanguageForwarded(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, multipartRequest(t,
		part{field: "audio", filename: "r.wav", contentType: "audio/wav", data: wavFixture(t, 0.2)},
		part{field: "language", data: []byte("es")},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := f.model.Calls[0].Language; got != "es" {
		t.Errorf("language = %q, want es", got)
	}
}

func TestHandler_TooLarge(t *testing.T) {
	f := newFixture(t)
	big := make([]byte, 2<<20)
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, multipartRequest(t,
		part{field: "audio", filename: "r.wav", contentType: "audio/wav", data: big},
	))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandler_DecodeFailureIs422(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, multipartRequest(t,
		part{field: "audio", filename: "r.wav", contentType: "audio/wav", data: []byte("RIFFnope")},
	))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["error"] != "Failed to process audio" || body["kind"] != "decode_failed" {
		t.Errorf("body = %v", body)
	}
}

func TestHandler_HealthEndpointsAndMetrics(t *testing.T) {
	f := newFixture(t)
	h := f.app.Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d: %s", path, rec.Code, rec.Body.String())
		}
	}
}

func TestHandler_ReadyzFailsWhileBreakerOpen(t *testing.T) {
	f := newFixture(t)
	f.model.Err = errors.New("unreachable")
	for range 3 {
		_, _ = f.app.Transcribe(context.Background(), wavFixture(t, 0.1), "audio/wav", "")
	}
	rec := httptest.NewRecorder()
	f.app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
}

// ── Recordings ───────────────────────────────────────────────────────────────

func noSleep(context.Context, time.Duration) error { return nil }

func newRecordings(t *testing.T, f *fixture, configure func(*capturemock.Host)) (*app.Recordings, *capturemock.Host) {
	t.Helper()
	host := &capturemock.Host{Env: capturemock.SecureEnvironment()}
	host.EncoderTemplate.Mime = "audio/wav"
	if configure != nil {
		configure(host)
	}
	r := f.app.NewRecordings(host, capture.WithSleep(noSleep), capture.WithTickInterval(time.Millisecond))
	t.Cleanup(func() { _ = r.Close() })
	return r, host
}

func waitResult(t *testing.T, ch <-chan app.Result) app.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return app.Result{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecordings_RecordAndTranscribe(t *testing.T) {
	f := newFixture(t)
	r, host := newRecordings(t, f, nil)

	var states []capture.State
	r.OnState(func(s capture.State) { states = append(states, s) })

	results, err := r.Start(context.Background(), "it")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	info, ok := r.Info()
	if !ok || info.ID == "" || info.Language != "it" {
		t.Fatalf("Info = %+v, %v", info, ok)
	}

	wav := wavFixture(t, 0.5)
	enc := host.LastEncoder()
	enc.Emit(wav[:100])
	enc.Emit(wav[100:])

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	res := waitResult(t, results)
	if res.Err != nil {
		t.Fatalf("result err: %v", res.Err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop after result: %v, want nil", err)
	}
	if res.Transcript != "hello world" || res.ID != info.ID {
		t.Errorf("result = %+v", res)
	}
	if res.Blob.Filename != "recording.wav" || len(res.Blob.Data) != len(wav) {
		t.Errorf("blob = %s, %d bytes", res.Blob.Filename, len(res.Blob.Data))
	}
	if f.model.Calls[0].Language != "it" {
		t.Errorf("language = %q", f.model.Calls[0].Language)
	}
	if r.IsActive() {
		t.Error("still active after result")
	}
	if states[len(states)-1] != capture.StateDone {
		t.Errorf("states = %v, want to end in done", states)
	}
}

func TestRecordings_SetBars(t *testing.T) {
	f := newFixture(t)
	r, _ := newRecordings(t, f, nil)
	r.SetBars(waveform.NarrowBars)

	if _, err := r.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return len(r.Snapshot().Frame) == waveform.NarrowBars })
	r.SetBars(waveform.WideBars)
	waitFor(t, func() bool { return len(r.Snapshot().Frame) == waveform.WideBars })
}

func TestRecordings_SecondStartRejected(t *testing.T) {
	f := newFixture(t)
	r, _ := newRecordings(t, f, nil)

	if _, err := r.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Start(context.Background(), ""); !errors.Is(err, capture.ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
}

func TestRecordings_StartFailure(t *testing.T) {
	f := newFixture(t)
	r, _ := newRecordings(t, f, func(h *capturemock.Host) {
		h.OpenErr = &capture.HostError{Class: capture.ClassPermission, Err: errors.New("denied")}
	})

	_, err := r.Start(context.Background(), "")
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if r.IsActive() {
		t.Error("active after failed start")
	}
	if got := counterSum(t, f.reader, "notescribe.errors", "kind", "permission_denied"); got != 1 {
		t.Errorf("permission errors = %d, want 1", got)
	}
}

func TestRecordings_EncoderFailure(t *testing.T) {
	f := newFixture(t)
	r, host := newRecordings(t, f, nil)

	results, err := r.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	host.LastEncoder().Fail(errors.New("disk full"))

	res := waitResult(t, results)
	if !errors.Is(res.Err, capture.ErrEncoderFailed) {
		t.Fatalf("err = %v, want ErrEncoderFailed", res.Err)
	}
	if f.model.CallCount() != 0 {
		t.Error("model called for failed recording")
	}
}

func TestRecordings_CloseAbandons(t *testing.T) {
	f := newFixture(t)
	r, _ := newRecordings(t, f, nil)

	results, err := r.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res := waitResult(t, results); !errors.Is(res.Err, app.ErrRecordingAbandoned) {
		t.Fatalf("err = %v, want ErrRecordingAbandoned", res.Err)
	}
	if r.IsActive() {
		t.Error("active after close")
	}
}

func TestRecordings_StopWithoutStart(t *testing.T) {
	f := newFixture(t)
	r, _ := newRecordings(t, f, nil)
	if err := r.Stop(); !errors.Is(err, capture.ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
	if s := r.Snapshot(); s.State != capture.StateIdle {
		t.Errorf("snapshot state = %s, want idle", s.State)
	}
}
