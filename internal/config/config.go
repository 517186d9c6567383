package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wampctl/internal/logging"
	"github.com/danmuck/wampctl/internal/runner"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
)

var (
	ErrMissingRealm      = errors.New("config: realm is required")
	ErrMissingTransports = errors.New("config: at least one transport is required")
	ErrInvalidDuration   = errors.New("config: invalid duration")
	ErrInvalidLogLevel   = errors.New("config: invalid log level")
	ErrInvalidPublish    = errors.New("config: invalid publish settings")
)

// PublishConfig enables a periodic event once the session has joined.
type PublishConfig struct {
	Topic    string
	Interval time.Duration
}

// RunnerConfig is the decoded wampctl run configuration.
type RunnerConfig struct {
	Realm        string
	Extra        map[string]any
	Transports   []transport.Config
	Serializers  []string
	Retry        wamp.BackoffConfig
	MaxAttempts  int
	Reconnect    bool
	TLS          transport.TLSFiles
	SecurityMode transport.SecurityMode
	StopSignals  []string
	LeaveTimeout time.Duration
	LeaveReason  string
	MetricsAddr  string
	LogLevel     string
	Publish      PublishConfig
}

type fileConfig struct {
	Realm        string             `toml:"realm"`
	Extra        map[string]any     `toml:"extra"`
	Transports   []transport.Config `toml:"transports"`
	Serializers  []string           `toml:"serializers"`
	Retry        retryFile          `toml:"retry"`
	MaxAttempts  int                `toml:"max_attempts"`
	Reconnect    bool               `toml:"reconnect"`
	TLS          transport.TLSFiles `toml:"tls"`
	SecurityMode string             `toml:"security_mode"`
	StopSignals  []string           `toml:"stop_signals"`
	LeaveTimeout string             `toml:"leave_timeout"`
	LeaveReason  string             `toml:"leave_reason"`
	MetricsAddr  string             `toml:"metrics_addr"`
	LogLevel     string             `toml:"log_level"`
	Publish      publishFile        `toml:"publish"`
}

type retryFile struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type publishFile struct {
	Topic    string `toml:"topic"`
	Interval string `toml:"interval"`
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Realm:        "realm1",
		Serializers:  []string{"json", "cbor"},
		Retry:        wamp.DefaultBackoff(),
		SecurityMode: transport.SecurityModeDevelopment,
		StopSignals:  []string{"SIGTERM"},
		LeaveTimeout: 5 * time.Second,
		LeaveReason:  wamp.CloseSystemShutdown,
	}
}

// LoadRunnerConfig decodes path over DefaultRunnerConfig and validates the
// result. Keys absent from the file keep their defaults.
func LoadRunnerConfig(path string) (RunnerConfig, error) {
	cfg := DefaultRunnerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return RunnerConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			if len(k) > 0 && k[0] == "extra" {
				continue
			}
			keys = append(keys, k.String())
		}
		if len(keys) > 0 {
			return RunnerConfig{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if meta.IsDefined("realm") {
		cfg.Realm = strings.TrimSpace(raw.Realm)
	}
	if meta.IsDefined("extra") {
		cfg.Extra = raw.Extra
	}
	if meta.IsDefined("transports") {
		cfg.Transports = raw.Transports
	}
	if meta.IsDefined("serializers") {
		cfg.Serializers = normalizeList(raw.Serializers)
	}

	if meta.IsDefined("retry", "initial_delay") {
		d, err := parseDuration("retry.initial_delay", raw.Retry.InitialDelay)
		if err != nil {
			return RunnerConfig{}, err
		}
		cfg.Retry.InitialDelay = d
	}
	if meta.IsDefined("retry", "multiplier") {
		cfg.Retry.Multiplier = raw.Retry.Multiplier
	}
	if meta.IsDefined("retry", "max_delay") {
		d, err := parseDuration("retry.max_delay", raw.Retry.MaxDelay)
		if err != nil {
			return RunnerConfig{}, err
		}
		cfg.Retry.MaxDelay = d
	}
	if meta.IsDefined("retry", "jitter") {
		cfg.Retry.Jitter = raw.Retry.Jitter
	}

	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("reconnect") {
		cfg.Reconnect = raw.Reconnect
	}
	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS
	}
	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = transport.NormalizeSecurityMode(transport.SecurityMode(raw.SecurityMode))
	}
	if meta.IsDefined("stop_signals") {
		cfg.StopSignals = normalizeList(raw.StopSignals)
	}
	if meta.IsDefined("leave_timeout") {
		d, err := parseDuration("leave_timeout", raw.LeaveTimeout)
		if err != nil {
			return RunnerConfig{}, err
		}
		cfg.LeaveTimeout = d
	}
	if meta.IsDefined("leave_reason") {
		cfg.LeaveReason = strings.TrimSpace(raw.LeaveReason)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("publish", "topic") {
		cfg.Publish.Topic = strings.TrimSpace(raw.Publish.Topic)
	}
	if meta.IsDefined("publish", "interval") {
		d, err := parseDuration("publish.interval", raw.Publish.Interval)
		if err != nil {
			return RunnerConfig{}, err
		}
		cfg.Publish.Interval = d
	}

	if err := Validate(cfg); err != nil {
		return RunnerConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks cfg without touching the network or the filesystem.
func Validate(cfg RunnerConfig) error {
	if strings.TrimSpace(cfg.Realm) == "" {
		return ErrMissingRealm
	}
	if len(cfg.Transports) == 0 {
		return ErrMissingTransports
	}
	for i, tc := range cfg.Transports {
		if transport.NormalizeKind(tc.Type) == transport.KindRawSocket {
			return fmt.Errorf("transports[%d]: %w: %q", i, wamp.ErrUnsupportedTransport, tc.Type)
		}
		if _, err := transport.ParseURL(tc.URL); err != nil {
			return fmt.Errorf("transports[%d]: %w", i, err)
		}
		if _, err := transport.Resolve(tc); err != nil {
			return fmt.Errorf("transports[%d]: %w", i, err)
		}
	}
	if _, err := wamp.SerializersByName(cfg.Serializers); err != nil {
		return err
	}
	if _, err := runner.ParseStopSignals(cfg.StopSignals); err != nil {
		return err
	}
	if err := transport.ValidateSecurity(cfg.SecurityMode, cfg.Transports, cfg.TLS); err != nil {
		return err
	}
	if (strings.TrimSpace(cfg.TLS.CertFile) == "") != (strings.TrimSpace(cfg.TLS.KeyFile) == "") {
		return transport.ErrTLSKeyPairIncomplete
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("config: max_attempts must be >= 0, got %d", cfg.MaxAttempts)
	}
	if cfg.LeaveTimeout < 0 {
		return fmt.Errorf("%w: leave_timeout=%s", ErrInvalidDuration, cfg.LeaveTimeout)
	}
	if lvl := strings.TrimSpace(cfg.LogLevel); lvl != "" {
		if _, ok := logging.ParseLevel(lvl); !ok {
			return fmt.Errorf("%w: %q", ErrInvalidLogLevel, lvl)
		}
	}
	if cfg.Publish.Topic != "" && cfg.Publish.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive when topic is set", ErrInvalidPublish)
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidDuration, key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidDuration, key)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
