package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "WAMPCTL_LOG_LEVEL"
	EnvLogTimestamp = "WAMPCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "WAMPCTL_LOG_NOCOLOR"
	EnvLogBypass    = "WAMPCTL_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup for one profile.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	// Bypass writes plain JSON lines instead of the console format.
	Bypass bool
	Output io.Writer
}

var (
	configureOnce sync.Once

	profiles = map[Profile]Config{
		ProfileRuntime: {Level: zerolog.InfoLevel, Timestamp: true},
		ProfileTest:    {Level: zerolog.DebugLevel, NoColor: true},
	}

	levelNames = map[string]zerolog.Level{
		"trace":       zerolog.TraceLevel,
		"diagnostics": zerolog.TraceLevel,
		"debug":       zerolog.DebugLevel,
		"info":        zerolog.InfoLevel,
		"warn":        zerolog.WarnLevel,
		"warning":     zerolog.WarnLevel,
		"error":       zerolog.ErrorLevel,
		"disabled":    zerolog.Disabled,
		"off":         zerolog.Disabled,
		"none":        zerolog.Disabled,
	}
)

func ConfigureRuntime() { Configure(ProfileRuntime) }

func ConfigureTests() { Configure(ProfileTest) }

// Configure installs the profile's logger once per process, after applying
// the WAMPCTL_LOG_* environment overrides.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := profiles[profile]
		cfg.fromEnv(os.Getenv)
		Apply(cfg)
	})
}

// Apply installs cfg as the global zerolog logger.
func Apply(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.Bypass {
		console := zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: time.RFC3339}
		if !cfg.Timestamp {
			console.PartsExclude = []string{zerolog.TimestampFieldName}
		}
		out = console
	}

	zerolog.SetGlobalLevel(cfg.Level)
	logger := zerolog.New(out)
	if cfg.Timestamp {
		logger = logger.With().Timestamp().Logger()
	}
	log.Logger = logger
	return logger
}

func (c *Config) fromEnv(getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		c.Level = lvl
	}
	for env, dst := range map[string]*bool{
		EnvLogTimestamp: &c.Timestamp,
		EnvLogNoColor:   &c.NoColor,
		EnvLogBypass:    &c.Bypass,
	} {
		if v, ok := parseBool(getenv(env)); ok {
			*dst = v
		}
	}
}

// ParseLevel maps a level name such as "debug" or "off" to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

func parseBool(raw string) (bool, bool) {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return v, err == nil
}

// SetLevel changes the global level when raw names a known level.
func SetLevel(raw string) bool {
	lvl, ok := ParseLevel(raw)
	if ok {
		zerolog.SetGlobalLevel(lvl)
	}
	return ok
}
