package cache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expiry windows and sweep defaults.
const (
	// RealtimeTTL applies to fast-moving data: predictions, signals, realtime feeds.
	RealtimeTTL = 5 * time.Minute

	// SentimentTTL applies to sentiment and metrics endpoints.
	SentimentTTL = 10 * time.Minute

	// AnalysisTTL applies to overview, analysis and backtest endpoints.
	AnalysisTTL = 15 * time.Minute

	// DefaultTTL applies when no rule matches.
	DefaultTTL = 15 * time.Minute

	// DefaultSweepInterval is how often the Sweeper purges expired entries.
	DefaultSweepInterval = 5 * time.Minute

	// minutesPerHour is used for duration formatting calculations.
	minutesPerHour = 60

	// hoursPerDay is used for duration formatting calculations.
	hoursPerDay = 24
)

// ErrInvalidTTL is returned by ParseTTL for non-positive or malformed values.
var ErrInvalidTTL = errors.New("TTL must be a positive duration")

// TTLRule assigns Window to identities containing any of the substrings.
// Matching is case-sensitive.
type TTLRule struct {
	Contains []string
	Window   time.Duration
}

// Matches reports whether identity contains one of the rule's substrings.
func (r TTLRule) Matches(identity string) bool {
	for _, s := range r.Contains {
		if strings.Contains(identity, s) {
			return true
		}
	}
	return false
}

// TTLPolicy is an ordered rule list evaluated top to bottom; first match wins.
type TTLPolicy struct {
	Rules   []TTLRule
	Default time.Duration
}

// DefaultTTLPolicy returns the endpoint classification used by ResolveTTL.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Rules: []TTLRule{
			{Contains: []string{"predictions", "signals", "realtime"}, Window: RealtimeTTL},
			{Contains: []string{"sentiment", "metrics"}, Window: SentimentTTL},
			{Contains: []string{"overview", "analysis", "backtest"}, Window: AnalysisTTL},
		},
		Default: DefaultTTL,
	}
}

// Resolve returns the expiry window for identity.
func (p TTLPolicy) Resolve(identity string) time.Duration {
	for _, rule := range p.Rules {
		if rule.Matches(identity) {
			return rule.Window
		}
	}
	return p.Default
}

// ResolveTTL classifies identity with DefaultTTLPolicy.
func ResolveTTL(identity string) time.Duration {
	return DefaultTTLPolicy().Resolve(identity)
}

// FormatDuration formats a duration in a human-readable way.
// Examples: "1h", "30m", "5m30s".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	if d < hoursPerDay*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % minutesPerHour
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}

// ParseTTL parses a TTL string in various formats:
// - Integer seconds: "300".
// - Duration string: "5m", "1h30m", "250ms".
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if seconds, err := strconv.Atoi(s); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("%w: got %d", ErrInvalidTTL, seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidTTL, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidTTL, s)
	}
	return d, nil
}
