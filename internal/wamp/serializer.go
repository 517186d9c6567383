package wamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	cbor "github.com/fxamacker/cbor/v2"
)

var (
	ErrUnknownSerializer = errors.New("wamp: unknown serializer")
)

// Serializer encodes messages for one websocket subprotocol.
type Serializer interface {
	Subprotocol() string
	Binary() bool
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
}

type jsonSerializer struct{}

// JSONSerializer returns the wamp.2.json text serializer.
func JSONSerializer() Serializer { return jsonSerializer{} }

func (jsonSerializer) Subprotocol() string { return "wamp.2.json" }
func (jsonSerializer) Binary() bool        { return false }

func (jsonSerializer) Marshal(msg Message) ([]byte, error) {
	return json.Marshal([]any(msg))
}

func (jsonSerializer) Unmarshal(data []byte) (Message, error) {
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return Message(out), nil
}

type cborSerializer struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var cborModes = sync.OnceValues(func() (cborSerializer, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return cborSerializer{}, err
	}
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return cborSerializer{}, err
	}
	return cborSerializer{enc: em, dec: dm}, nil
})

// CBORSerializer returns the wamp.2.cbor binary serializer.
func CBORSerializer() (Serializer, error) {
	s, err := cborModes()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (cborSerializer) Subprotocol() string { return "wamp.2.cbor" }
func (cborSerializer) Binary() bool        { return true }

func (c cborSerializer) Marshal(msg Message) ([]byte, error) {
	return c.enc.Marshal([]any(msg))
}

func (c cborSerializer) Unmarshal(data []byte) (Message, error) {
	var out []any
	if err := c.dec.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return Message(out), nil
}

// SerializerByName maps a config name ("json", "cbor") to a serializer.
func SerializerByName(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return JSONSerializer(), nil
	case "cbor":
		return CBORSerializer()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, name)
	}
}

// SerializersByName resolves names in preference order.
func SerializersByName(names []string) ([]Serializer, error) {
	out := make([]Serializer, 0, len(names))
	for _, name := range names {
		s, err := SerializerByName(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DefaultSerializers offers json first, then cbor.
func DefaultSerializers() []Serializer {
	out := []Serializer{JSONSerializer()}
	if c, err := CBORSerializer(); err == nil {
		out = append(out, c)
	}
	return out
}

// SerializerForSubprotocol maps a negotiated subprotocol back to its
// serializer.
func SerializerForSubprotocol(protocol string) (Serializer, error) {
	for _, s := range DefaultSerializers() {
		if s.Subprotocol() == protocol {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSerializer, protocol)
}
