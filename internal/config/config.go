// Package config provides the configuration schema, loader, and speech model
// registry for notescribe.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatText is slog's key=value text handler.
	LogFormatText LogFormat = "text"

	// LogFormatJSON is slog's JSON handler.
	LogFormatJSON LogFormat = "json"

	// LogFormatPretty is the colourised charmbracelet/log handler for
	// interactive terminals.
	LogFormatPretty LogFormat = "pretty"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatPretty:
		return true
	}
	return false
}

// Config is the root configuration structure for notescribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Capture CaptureConfig `yaml:"capture"`
	Model   ModelEntry    `yaml:"model"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the log handler. Empty lets the command choose.
	LogFormat LogFormat `yaml:"log_format"`

	// MaxUploadMB caps the size of an uploaded recording.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig configures decoding of uploaded and recorded audio.
type AudioConfig struct {
	// FFmpegPath is the ffmpeg executable used for transcoding.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// TempDir holds transcoder scratch files. Empty uses the OS default.
	TempDir string `yaml:"temp_dir"`
}

// CaptureConfig configures live microphone capture.
type CaptureConfig struct {
	// InputFormat is the ffmpeg input device format (pulse, alsa,
	// avfoundation, dshow).
	InputFormat string `yaml:"input_format"`

	// InputDevice names the device within InputFormat.
	InputDevice string `yaml:"input_device"`

	// Narrow renders the live waveform with fewer bars.
	Narrow bool `yaml:"narrow"`
}

// ModelEntry selects and configures the speech model. Name selects the
// backend registered in the [Registry].
type ModelEntry struct {
	// Name selects the registered backend (e.g., "whisper-native").
	Name string `yaml:"name"`

	// Model is the model name, e.g. "small" or "base.en".
	Model string `yaml:"model"`

	// ModelPath points at a local ggml file and bypasses the cache.
	ModelPath string `yaml:"model_path"`

	// CacheDir stores downloaded models. Empty uses the user cache dir.
	CacheDir string `yaml:"cache_dir"`

	// DownloadURL overrides where models are downloaded from.
	DownloadURL string `yaml:"download_url"`

	// BaseURL is the whisper-server endpoint for the HTTP backend.
	BaseURL string `yaml:"base_url"`

	// Language is the default two-letter language hint. Empty auto-detects.
	Language string `yaml:"language"`

	// Threads caps inference threads for the native backend.
	Threads int `yaml:"threads"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr  = ":8080"
	DefaultMaxUploadMB = 50
	DefaultFFmpegPath  = "ffmpeg"
	DefaultInputFormat = "pulse"
	DefaultInputDevice = "default"
	DefaultModelName   = "whisper-native"
	DefaultModel       = "small"
)

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Audio.FFmpegPath == "" {
		cfg.Audio.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.Capture.InputFormat == "" {
		cfg.Capture.InputFormat = DefaultInputFormat
	}
	if cfg.Capture.InputDevice == "" {
		cfg.Capture.InputDevice = DefaultInputDevice
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = DefaultModelName
	}
	if cfg.Model.Model == "" && cfg.Model.ModelPath == "" {
		cfg.Model.Model = DefaultModel
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
