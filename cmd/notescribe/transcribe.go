package main

import (
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/notescribe/internal/app"
	"github.com/MrWong99/notescribe/internal/config"
)

// extensionTypes covers common recording formats that the system MIME table
// may not know.
var extensionTypes = map[string]string{
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg;codecs=opus",
	".webm": "audio/webm",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".flac": "audio/flac",
}

func newTranscribeCmd(g *globals) *cobra.Command {
	var (
		language string
		mimeType string
	)
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio file and print the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, _ := newLogger(cmd.ErrOrStderr(), cfg, config.LogFormatPretty)
			slog.SetDefault(logger)

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = typeForFile(path)
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Shutdown(ctx)

			slog.Info("transcribing", "file", filepath.Base(path), "mime_type", mimeType, "bytes", len(data))
			text, err := a.Transcribe(ctx, data, mimeType, language)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "lang", "l", "", "two-letter language hint, or auto")
	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type of the file (default: derived from the extension)")
	return cmd
}

// typeForFile guesses a MIME type from the file extension. Unknown
// extensions return an empty type, which the normalizer treats as needing
// transcoding.
func typeForFile(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}
