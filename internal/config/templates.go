package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

var (
	ErrUnknownTemplate = errors.New("config: unknown template kind")
	ErrConfigExists    = errors.New("config: file already exists")
)

var templates = map[string]string{
	"":     tcpTemplate,
	"tcp":  tcpTemplate,
	"unix": unixTemplate,
}

// Template returns a starter config for kind: "tcp" (the default) or "unix".
func Template(kind string) (string, error) {
	body, ok := templates[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, kind)
	}
	return body, nil
}

// WriteTemplate writes the starter config for kind to path. Without overwrite
// an existing file is left alone and ErrConfigExists is returned.
func WriteTemplate(path, kind string, overwrite bool) error {
	body, err := Template(kind)
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err != nil {
		return err
	}
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

const tcpTemplate = `realm = "realm1"
serializers = ["json", "cbor"]
security_mode = "development"
stop_signals = ["SIGTERM"]
leave_timeout = "5s"
leave_reason = "wamp.close.system_shutdown"
max_attempts = 0
reconnect = false
metrics_addr = ""
log_level = "info"

[retry]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[[transports]]
type = "websocket"
url = "ws://127.0.0.1:8080/ws"

[transports.endpoint]
type = "tcp"
host = "127.0.0.1"
port = 8080
version = 4

[extra]
client = "wampctl"
`

const unixTemplate = `realm = "realm1"
serializers = ["cbor", "json"]
stop_signals = ["SIGTERM"]
leave_timeout = "2s"

[[transports]]
type = "websocket"
url = "ws://localhost/ws"

[transports.endpoint]
type = "unix"
path = "/run/wamp/router.sock"
`
