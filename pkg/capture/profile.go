package capture

import (
	"strings"
	"time"
)

// DefaultCandidates is the encoder format priority list for well-behaved
// hosts.
var DefaultCandidates = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/ogg",
}

// Profile bundles the timing and format preferences for a family of hosts.
type Profile struct {
	Name string

	// Candidates are tried before [DefaultCandidates]. Empty for hosts
	// without known quirks.
	Candidates []string

	// WarmupDelay follows construction of the analysis graph.
	WarmupDelay time.Duration

	// SettleDelay precedes encoder construction.
	SettleDelay time.Duration

	// StartDelay precedes starting the encoder.
	StartDelay time.Duration
}

// Quirky reports whether the profile carries its own format preferences.
func (p Profile) Quirky() bool { return len(p.Candidates) > 0 }

// DefaultProfile applies to hosts without known quirks.
var DefaultProfile = Profile{
	Name:        "default",
	WarmupDelay: 50 * time.Millisecond,
	SettleDelay: 100 * time.Millisecond,
	StartDelay:  50 * time.Millisecond,
}

// ZenProfile applies to Zen-based hosts, which misreport format support and
// need longer to bring the graph and the encoder up.
var ZenProfile = Profile{
	Name: "zen",
	Candidates: []string{
		"audio/webm;codecs=opus",
		"audio/webm",
		"audio/mp4",
	},
	WarmupDelay: 200 * time.Millisecond,
	SettleDelay: 300 * time.Millisecond,
	StartDelay:  50 * time.Millisecond,
}

// quirkProfiles maps a lowercase engine substring to its profile.
var quirkProfiles = []struct {
	marker  string
	profile Profile
}{
	{marker: "zen", profile: ZenProfile},
}

// DetectProfile selects the profile for env by matching its engine name.
func DetectProfile(env Environment) Profile {
	engine := strings.ToLower(env.Engine)
	for _, q := range quirkProfiles {
		if strings.Contains(engine, q.marker) {
			return q.profile
		}
	}
	return DefaultProfile
}
