package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/notescribe/internal/config"
)

func TestTypeForFile(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.wav", "audio/wav"},
		{"B.WEBM", "audio/webm"},
		{"voice.opus", "audio/ogg;codecs=opus"},
		{"x.m4a", "audio/mp4"},
		{"noext", ""},
	}
	for _, tt := range tests {
		if got := typeForFile(tt.path); got != tt.want {
			t.Errorf("typeForFile(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	tests := []struct {
		format config.LogFormat
		want   string
	}{
		{config.LogFormatJSON, `"msg":"hello"`},
		{config.LogFormatText, "msg=hello"},
		{config.LogFormatPretty, "hello"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.Default()
			cfg.Server.LogFormat = tt.format
			logger, _ := newLogger(&buf, cfg, config.LogFormatText)
			logger.Info("hello")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestNewLogger_LevelVarGatesPretty(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.Server.LogLevel = config.LogWarn
	logger, level := newLogger(&buf, cfg, config.LogFormatPretty)

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	level.Set(slog.LevelDebug)
	logger.Debug("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("debug not logged after level change: %q", buf.String())
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing default file uses defaults", func(t *testing.T) {
		g := &globals{configPath: filepath.Join(dir, "absent.yaml")}
		cfg, err := g.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Model.Name != config.DefaultModelName {
			t.Errorf("model = %q", cfg.Model.Name)
		}
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		g := &globals{configPath: filepath.Join(dir, "absent.yaml"), explicit: true}
		if _, err := g.loadConfig(); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("flag overrides", func(t *testing.T) {
		path := filepath.Join(dir, "notescribe.yaml")
		if err := os.WriteFile(path, []byte("model:\n  language: de\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		g := &globals{configPath: path, logLevel: "debug", logFormat: "json"}
		cfg, err := g.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Model.Language != "de" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogFormatJSON {
			t.Errorf("cfg = %+v", cfg.Server)
		}
	})

	t.Run("invalid override", func(t *testing.T) {
		g := &globals{configPath: filepath.Join(dir, "absent.yaml"), logLevel: "loud"}
		if _, err := g.loadConfig(); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	got := strings.Join(names, ",")
	for _, want := range []string{"record", "serve", "transcribe"} {
		if !strings.Contains(got, want) {
			t.Errorf("subcommands %q missing %q", got, want)
		}
	}
}
