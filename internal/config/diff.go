package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	// ModelChanged reports a different backend or model selection. It is
	// applied by dropping the loaded model so the next request reloads.
	ModelChanged bool

	// RestartRequired lists changed settings that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LanguageChanged || d.ModelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Model.Language != new.Model.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Model.Language
	}

	if !sameModel(old.Model, new.Model) {
		d.ModelChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server.log_format")
	}
	if (old.Server.TLS == nil) != (new.Server.TLS == nil) ||
		(old.Server.TLS != nil && *old.Server.TLS != *new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	return d
}

// sameModel compares the fields that select a model. Language is tracked
// separately and Options may hold uncomparable values.
func sameModel(a, b ModelEntry) bool {
	return a.Name == b.Name &&
		a.Model == b.Model &&
		a.ModelPath == b.ModelPath &&
		a.CacheDir == b.CacheDir &&
		a.DownloadURL == b.DownloadURL &&
		a.BaseURL == b.BaseURL &&
		a.Threads == b.Threads
}
