package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wampctl/internal/runner"
	"github.com/danmuck/wampctl/internal/testutil/testlog"
	"github.com/danmuck/wampctl/internal/testutil/tlstest"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wampctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunnerConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
realm = "com.example"
max_attempts = 4
reconnect = true
leave_timeout = "750ms"

[retry]
initial_delay = "10ms"

[[transports]]
url = "wss://router.example.org/ws"

[transports.endpoint]
type = "tcp"
host = "router.example.org"
port = 443

[[transports]]
url = "ws://localhost/ws"

[transports.endpoint]
type = "unix"
path = "/run/router.sock"

[extra]
name = "sensor"
weight = 3
`)
	cfg, err := LoadRunnerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Realm != "com.example" {
		t.Fatalf("unexpected realm: %q", cfg.Realm)
	}
	if cfg.MaxAttempts != 4 || !cfg.Reconnect {
		t.Fatalf("unexpected retry policy: attempts=%d reconnect=%v", cfg.MaxAttempts, cfg.Reconnect)
	}
	if cfg.LeaveTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected leave timeout: %v", cfg.LeaveTimeout)
	}
	if cfg.Retry.InitialDelay != 10*time.Millisecond {
		t.Fatalf("unexpected initial delay: %v", cfg.Retry.InitialDelay)
	}
	def := wamp.DefaultBackoff()
	if cfg.Retry.MaxDelay != def.MaxDelay || cfg.Retry.Multiplier != def.Multiplier || cfg.Retry.Jitter != def.Jitter {
		t.Fatalf("retry defaults not kept: %+v", cfg.Retry)
	}
	if len(cfg.Serializers) != 2 || cfg.SecurityMode != transport.SecurityModeDevelopment {
		t.Fatalf("defaults not kept: serializers=%v mode=%q", cfg.Serializers, cfg.SecurityMode)
	}
	if len(cfg.Transports) != 2 {
		t.Fatalf("unexpected transports: %+v", cfg.Transports)
	}
	if cfg.Transports[0].Endpoint.Port != 443 || cfg.Transports[1].Endpoint.Path != "/run/router.sock" {
		t.Fatalf("unexpected transports: %+v", cfg.Transports)
	}
	if cfg.Extra["name"] != "sensor" || cfg.Extra["weight"] != int64(3) {
		t.Fatalf("unexpected extra: %+v", cfg.Extra)
	}
}

func TestLoadRunnerConfigRejects(t *testing.T) {
	testlog.Start(t)
	transportBlock := `
[[transports]]
url = "ws://127.0.0.1:8080/ws"
[transports.endpoint]
type = "tcp"
host = "127.0.0.1"
port = 8080
`
	cases := []struct {
		name string
		body string
		want error
	}{
		{"empty realm", `realm = ""` + transportBlock, ErrMissingRealm},
		{"no transports", `realm = "r"`, ErrMissingTransports},
		{"bad duration", `leave_timeout = "soon"` + transportBlock, ErrInvalidDuration},
		{"bad log level", `log_level = "loud"` + transportBlock, ErrInvalidLogLevel},
		{"bad serializer", `serializers = ["msgpack"]` + transportBlock, wamp.ErrUnknownSerializer},
		{"bad signal", `stop_signals = ["SIGNOPE"]` + transportBlock, runner.ErrInvalidStopSignal},
		{"production plain tcp", `security_mode = "production"` + transportBlock, transport.ErrTLSRequired},
		{"publish without interval", "[publish]\ntopic = \"t\"\n" + transportBlock, ErrInvalidPublish},
		{"rawsocket", `realm = "r"
[[transports]]
type = "rawsocket"
url = "ws://127.0.0.1:8080/ws"
[transports.endpoint]
type = "tcp"
host = "127.0.0.1"
port = 8080
`, wamp.ErrUnsupportedTransport},
		{"ipv6", `realm = "r"
[[transports]]
url = "ws://[::1]:8080/ws"
[transports.endpoint]
type = "tcp"
host = "::1"
port = 8080
version = 6
`, transport.ErrUnsupportedAddressFamily},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadRunnerConfig(writeConfig(t, tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := LoadRunnerConfig(writeConfig(t, "realm = \"r\"\nsurprise = 1\n"+transportBlock)); err == nil {
		t.Fatalf("expected unknown key rejection")
	}
	if _, err := LoadRunnerConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"tcp", "unix"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("%s write: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); !errors.Is(err, ErrConfigExists) {
			t.Fatalf("%s: expected ErrConfigExists, got %v", kind, err)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("%s overwrite: %v", kind, err)
		}
		if _, err := LoadRunnerConfig(path); err != nil {
			t.Fatalf("%s template does not load: %v", kind, err)
		}
	}
	if _, err := Template("serial"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestRunnerOptions(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	auth := tlstest.NewAuthority(t, dir, "wampctl-test-ca")

	cfg := DefaultRunnerConfig()
	cfg.Transports = []transport.Config{{
		URL:      "wss://127.0.0.1:9443/ws",
		Endpoint: transport.Endpoint{Type: transport.EndpointTCP, Host: "127.0.0.1", Port: 9443},
	}}
	cfg.TLS = transport.TLSFiles{CAFile: auth.CAFile()}
	cfg.Extra = map[string]any{"k": "v"}
	cfg.MaxAttempts = 2

	rc, err := cfg.RunnerOptions()
	if err != nil {
		t.Fatalf("runner options: %v", err)
	}
	if rc.Realm != "realm1" || rc.LeaveReason != wamp.CloseSystemShutdown {
		t.Fatalf("unexpected runner config: %+v", rc)
	}
	if rc.Connection.MaxAttempts != 2 || len(rc.Connection.Connect) != 2 {
		t.Fatalf("unexpected connection options: %+v", rc.Connection)
	}
	if len(rc.StopSignals) != 1 {
		t.Fatalf("unexpected stop signals: %v", rc.StopSignals)
	}
	if extra, ok := rc.Extra.(map[string]any); !ok || extra["k"] != "v" {
		t.Fatalf("unexpected extra: %#v", rc.Extra)
	}

	cfg.Extra = nil
	rc, err = cfg.RunnerOptions()
	if err != nil {
		t.Fatalf("runner options: %v", err)
	}
	if rc.Extra != nil {
		t.Fatalf("nil extra should stay nil, got %#v", rc.Extra)
	}

	cfg.TLS = transport.TLSFiles{CAFile: filepath.Join(dir, "missing.pem")}
	if _, err := cfg.RunnerOptions(); err == nil {
		t.Fatalf("expected missing ca error")
	}
}
