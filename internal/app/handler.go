package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/notescribe/internal/health"
	"github.com/MrWong99/notescribe/internal/observe"
	"github.com/MrWong99/notescribe/internal/resilience"
	"github.com/MrWong99/notescribe/pkg/audio"
	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// multipartMemory is how much of an upload is kept in memory before the
// multipart reader spills to disk.
const multipartMemory = 8 << 20

// transcribeResponse is the success body of POST /transcribe.
type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// errorResponse is the failure body of POST /transcribe.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Handler returns the HTTP API: POST /transcribe, the health probes and the
// Prometheus scrape endpoint, wrapped in tracing and metrics middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", a.handleTranscribe)
	health.New(a.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Checkers returns the readiness checks for this app.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		{
			Name:  "model",
			Check: a.checkModel,
		},
		health.WritableDir("temp_dir", a.cfg.Audio.TempDir),
	}
	ffmpeg := health.Executable("ffmpeg", a.cfg.Audio.FFmpegPath)
	// WAV uploads still work without ffmpeg.
	ffmpeg.Optional = true
	return append(checks, ffmpeg)
}

func (a *App) checkModel(context.Context) error {
	if a.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("speech backend %q is failing: %w", a.cfg.Model.Name, resilience.ErrCircuitOpen)
	}
	return nil
}

func (a *App) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	limit := int64(a.cfg.Server.MaxUploadMB) << 20
	tooLarge := errorResponse{
		Error:   "Audio file is too large",
		Details: fmt.Sprintf("limit is %d MB", a.cfg.Server.MaxUploadMB),
	}
	if limit > 0 {
		if r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, errorResponse{Error: "Audio file is required", Details: err.Error()})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "Audio file is required"})
		return
	}
	defer file.Close()

	mimeType := partType(header.Header.Get("Content-Type"), header.Filename)
	if !strings.HasPrefix(mimeType, "audio/") {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "File must be an audio file", Details: mimeType})
		return
	}

	language := strings.TrimSpace(r.FormValue("language"))
	if language != "" && language != "auto" && !transcribe.ValidLanguage(language) {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "Invalid language", Details: language})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "Audio file is required", Details: err.Error()})
		return
	}
	log.Info("transcription requested", "filename", header.Filename, "mime_type", mimeType, "bytes", len(data))

	text, err := a.Transcribe(ctx, data, mimeType, language)
	if err != nil {
		writeError(w, statusFor(err), errorResponse{
			Error:   "Failed to process audio",
			Details: err.Error(),
			Kind:    ErrorKind(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, transcribeResponse{Transcript: text})
}

// partType returns the media type of an uploaded part, falling back to the
// file extension when the client sent none.
func partType(contentType, filename string) string {
	if contentType == "" || contentType == "application/octet-stream" {
		if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
			contentType = t
		}
	}
	media, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return media
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrDecodeFailed), errors.Is(err, transcribe.ErrEmptyTranscript):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}
