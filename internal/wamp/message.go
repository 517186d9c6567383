package wamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMalformedMessage = errors.New("wamp: malformed message")
)

// Message is one decoded protocol message: a type code followed by its fields.
type Message []any

// Message type codes used by this client.
const (
	MsgHello     = 1
	MsgWelcome   = 2
	MsgAbort     = 3
	MsgGoodbye   = 6
	MsgError     = 8
	MsgPublish   = 16
	MsgPublished = 17
)

// Close reasons.
const (
	CloseNormal         = "wamp.close.normal"
	CloseGoodbyeAndOut  = "wamp.close.goodbye_and_out"
	CloseSystemShutdown = "wamp.close.system_shutdown"
)

// Type returns the message type code.
func (m Message) Type() (int, error) {
	if len(m) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrMalformedMessage)
	}
	v, err := toUint64(m[0])
	if err != nil {
		return 0, fmt.Errorf("%w: type: %v", ErrMalformedMessage, err)
	}
	return int(v), nil
}

// ID returns the unsigned id at field index i.
func (m Message) ID(i int) (uint64, error) {
	if i >= len(m) {
		return 0, fmt.Errorf("%w: missing field %d", ErrMalformedMessage, i)
	}
	v, err := toUint64(m[i])
	if err != nil {
		return 0, fmt.Errorf("%w: field %d: %v", ErrMalformedMessage, i, err)
	}
	return v, nil
}

// Str returns the string at field index i, or "" when absent.
func (m Message) Str(i int) string {
	if i >= len(m) {
		return ""
	}
	s, _ := m[i].(string)
	return s
}

// Dict returns the dictionary at field index i, or nil when absent.
func (m Message) Dict(i int) map[string]any {
	if i >= len(m) {
		return nil
	}
	switch d := m[i].(type) {
	case map[string]any:
		return d
	case map[any]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			if ks, ok := k.(string); ok {
				out[ks] = v
			}
		}
		return out
	default:
		return nil
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case uint:
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative %d", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative %d", n)
		}
		return uint64(n), nil
	case float64:
		if n < 0 || n != math.Trunc(n) || n > 1<<53 {
			return 0, fmt.Errorf("not an id: %v", n)
		}
		return uint64(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, fmt.Errorf("not an id: %s", n)
		}
		return uint64(i), nil
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
