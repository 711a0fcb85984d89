package capture

import (
	"log/slog"
	"net"
	"strings"
)

// EncoderChoice is the outcome of [Negotiate].
type EncoderChoice struct {
	// MimeType is the selected format. Empty when Default is set.
	MimeType string

	// Default requests construction without a configured format because no
	// candidate was reported as supported.
	Default bool

	// Profile is the host profile the choice was made under.
	Profile Profile
}

// Negotiate checks the host preconditions and selects an encoder format.
//
// Preconditions are checked in order: recorder API ([ErrAPIMissing]), secure
// context ([ErrInsecureContext]) and device API ([ErrDeviceAPIMissing]).
// Candidates of the host's quirk profile are probed before
// [DefaultCandidates]. A probe that panics counts as unsupported. When no
// candidate is supported the choice falls back to default construction, or
// fails with [ErrEncoderUnavailable] if the host cannot construct even that.
func Negotiate(host Host) (EncoderChoice, error) {
	env := host.Environment()
	if !env.RecorderAPI {
		return EncoderChoice{}, newError(ErrAPIMissing, nil)
	}
	if !env.Secure && !IsSecureOrigin(env.Protocol, env.Hostname) {
		return EncoderChoice{}, newError(ErrInsecureContext, nil)
	}
	if !env.DeviceAPI {
		return EncoderChoice{}, newError(ErrDeviceAPIMissing, nil)
	}

	profile := DetectProfile(env)
	lists := [][]string{DefaultCandidates}
	if profile.Quirky() {
		lists = [][]string{profile.Candidates, DefaultCandidates}
	}
	for _, list := range lists {
		for _, mime := range list {
			if probe(host, mime) {
				slog.Debug("capture: encoder format selected", "mime", mime, "profile", profile.Name)
				return EncoderChoice{MimeType: mime, Profile: profile}, nil
			}
		}
	}

	if !env.DefaultEncoder {
		return EncoderChoice{}, newError(ErrEncoderUnavailable, nil)
	}
	slog.Warn("capture: no candidate format supported, using host default", "profile", profile.Name)
	return EncoderChoice{Default: true, Profile: profile}, nil
}

// probe asks the host whether mime is supported, treating a panic as "no".
func probe(host Host, mime string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("capture: support probe panicked", "mime", mime, "panic", r)
			ok = false
		}
	}()
	return host.IsTypeSupported(mime)
}

// IsSecureOrigin reports whether an origin may access the microphone: the
// https scheme, the localhost name or a loopback address.
func IsSecureOrigin(protocol, hostname string) bool {
	if strings.TrimSuffix(strings.ToLower(protocol), ":") == "https" {
		return true
	}
	host := strings.Trim(strings.ToLower(hostname), "[]")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
