package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/notescribe/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Model.Options = map[string]any{"beam": []int{1, 2}}
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if d.ModelChanged || d.LanguageChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unrelated changes reported: %+v", d)
	}
}

func TestDiff_LanguageIsNotAModelChange(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Model.Language = "ru"

	d := config.Diff(old, new)
	if !d.LanguageChanged || d.NewLanguage != "ru" {
		t.Errorf("diff = %+v", d)
	}
	if d.ModelChanged {
		t.Error("language change reported as model change")
	}
}

func TestDiff_ModelChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"backend", func(c *config.Config) { c.Model.Name = "whisper-server" }},
		{"model", func(c *config.Config) { c.Model.Model = "medium" }},
		{"path", func(c *config.Config) { c.Model.ModelPath = "/m.bin" }},
		{"threads", func(c *config.Config) { c.Model.Threads = 8 }},
		{"base url", func(c *config.Config) { c.Model.BaseURL = "http://x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := config.Default(), config.Default()
			tt.mutate(new)
			if d := config.Diff(old, new); !d.ModelChanged {
				t.Errorf("ModelChanged = false for %s", tt.name)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.ListenAddr = ":1234"
	new.Capture.Narrow = true
	new.Audio.TempDir = "/scratch"
	new.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}

	d := config.Diff(old, new)
	for _, want := range []string{"server.listen_addr", "capture", "audio", "server.tls"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired = %v, missing %q", d.RestartRequired, want)
		}
	}
	if !d.Changed() {
		t.Error("Changed = false")
	}
}
