package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	EnvLogLevel     = "FLOWSCORE_LOG_LEVEL"
	EnvLogTimestamp = "FLOWSCORE_LOG_TIMESTAMP"
	EnvLogNoColor   = "FLOWSCORE_LOG_NOCOLOR"
	EnvLogBypass    = "FLOWSCORE_LOG_BYPASS"
)

// Profile picks the baseline before env overrides.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var configureOnce sync.Once

func ConfigureRuntime() { Configure(ProfileRuntime) }
func ConfigureTests()   { Configure(ProfileTest) }

// Configure applies profile defaults plus FLOWSCORE_LOG_* overrides. Only
// the first call in a process has any effect.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		Apply(cfg)
	})
}

// Tests log everything without timestamps so output diffs cleanly.
func defaultConfig(profile Profile) Config {
	cfg := DefaultConfig()
	if profile == ProfileTest {
		cfg.Level = DebugLevel
		cfg.Timestamp = false
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	flags := []struct {
		env string
		dst *bool
	}{
		{EnvLogTimestamp, &cfg.Timestamp},
		{EnvLogNoColor, &cfg.NoColor},
		{EnvLogBypass, &cfg.Bypass},
	}
	for _, f := range flags {
		if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(f.env))); err == nil {
			*f.dst = v
		}
	}
}

var levelNames = map[string]Level{
	"trace":    TraceLevel,
	"debug":    DebugLevel,
	"info":     InfoLevel,
	"warn":     WarnLevel,
	"warning":  WarnLevel,
	"error":    ErrorLevel,
	"off":      Disabled,
	"none":     Disabled,
	"disabled": Disabled,
}

// ParseLevel maps operator-facing level names; ok is false for empty or unknown input.
func ParseLevel(raw string) (Level, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return InfoLevel, false
	}
	return lvl, true
}
