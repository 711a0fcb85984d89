package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/notescribe/pkg/transcribe"
)

// ValidModelNames lists the built-in speech model backends. Used by
// [Validate] to warn about unrecognised names.
var ValidModelNames = []string{"whisper-native", "whisper-server"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Model
	m := cfg.Model
	if m.Name != "" && !slices.Contains(ValidModelNames, m.Name) {
		slog.Warn("unknown model backend; may be a typo or a third-party registration",
			"name", m.Name,
			"known", ValidModelNames,
		)
	}
	if m.Name == "whisper-server" && m.BaseURL == "" {
		errs = append(errs, errors.New("model.base_url is required when model.name is whisper-server"))
	}
	if m.Language != "" && m.Language != "auto" && !transcribe.ValidLanguage(m.Language) {
		errs = append(errs, fmt.Errorf("model.language %q must be a two-letter lowercase code or empty", m.Language))
	}
	if m.Threads < 0 {
		errs = append(errs, fmt.Errorf("model.threads %d must not be negative", m.Threads))
	}
	if m.ModelPath != "" && m.Model != "" {
		slog.Warn("model.model_path is set; model.model is ignored", "model", m.Model)
	}

	// Audio
	if cfg.Audio.TempDir != "" {
		if fi, err := os.Stat(cfg.Audio.TempDir); err != nil || !fi.IsDir() {
			slog.Warn("audio.temp_dir does not exist; transcoding will fail until it does", "dir", cfg.Audio.TempDir)
		}
	}

	return errors.Join(errs...)
}
