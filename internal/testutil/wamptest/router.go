// Package wamptest runs a small in-process WAMP router for tests. It speaks
// just enough of the protocol to welcome, abort, and say goodbye to clients
// and to record what they publish.
package wamptest

import (
	"crypto/tls"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/danmuck/wampctl/internal/wamp"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Behavior selects how the router answers HELLO.
type Behavior int

const (
	// Welcome accepts every HELLO.
	Welcome Behavior = iota
	// Abort rejects every HELLO with wamp.error.no_such_realm.
	Abort
	// DropOnHello closes the socket as soon as HELLO arrives.
	DropOnHello
)

const ReasonNoSuchRealm = "wamp.error.no_such_realm"

type Option func(*Router)

// WithSubprotocols limits the accepted subprotocols. No arguments means the
// router never selects one.
func WithSubprotocols(protocols ...string) Option {
	return func(r *Router) {
		r.protocols = protocols
	}
}

func WithBehavior(b Behavior) Option {
	return func(r *Router) {
		r.behavior = b
	}
}

func WithSessionID(id uint64) Option {
	return func(r *Router) {
		r.sessionID = id
	}
}

// Router accepts websocket clients on one listener.
type Router struct {
	t         testing.TB
	ln        net.Listener
	protocols []string
	behavior  Behavior
	sessionID uint64

	mu         sync.Mutex
	conns      map[*routerConn]struct{}
	accepted   int
	hellos     []wamp.Message
	goodbyes   []wamp.Message
	published  []wamp.Message
	negotiated []string

	wg sync.WaitGroup
}

type routerConn struct {
	net.Conn
	wmu        sync.Mutex
	serializer wamp.Serializer
	joined     bool
	goodbye    bool
}

// NewTCP starts a router on an ephemeral loopback port.
func NewTCP(t testing.TB, opts ...Option) *Router {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	return start(t, ln, opts...)
}

// NewUnix starts a router on a unix socket inside t.TempDir.
func NewUnix(t testing.TB, opts ...Option) *Router {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.sock")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen unix: %v", err)
	}
	return start(t, ln, opts...)
}

// NewTLS starts a router on an ephemeral loopback port behind cfg.
func NewTLS(t testing.TB, cfg *tls.Config, opts ...Option) *Router {
	t.Helper()
	ln, err := tls.Listen("tcp4", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen tls: %v", err)
	}
	return start(t, ln, opts...)
}

func start(t testing.TB, ln net.Listener, opts ...Option) *Router {
	r := &Router{
		t:         t,
		ln:        ln,
		protocols: []string{"wamp.2.json", "wamp.2.cbor"},
		behavior:  Welcome,
		sessionID: 4242,
		conns:     make(map[*routerConn]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.acceptLoop()
	t.Cleanup(r.Close)
	return r
}

// Addr is the listener address.
func (r *Router) Addr() net.Addr {
	return r.ln.Addr()
}

// Port is the tcp port, or 0 for unix listeners.
func (r *Router) Port() int {
	if addr, ok := r.ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Path is the unix socket path, or "" for tcp listeners.
func (r *Router) Path() string {
	if addr, ok := r.ln.Addr().(*net.UnixAddr); ok {
		return addr.Name
	}
	return ""
}

// URL is the websocket url clients should use for the handshake.
func (r *Router) URL(secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	port := r.Port()
	if port == 0 {
		return scheme + "://localhost/ws"
	}
	return scheme + "://127.0.0.1:" + strconv.Itoa(port) + "/ws"
}

// SessionID is the id handed out in WELCOME.
func (r *Router) SessionID() uint64 {
	return r.sessionID
}

func (r *Router) Accepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

func (r *Router) Hellos() []wamp.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wamp.Message(nil), r.hellos...)
}

func (r *Router) Goodbyes() []wamp.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wamp.Message(nil), r.goodbyes...)
}

func (r *Router) Published() []wamp.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wamp.Message(nil), r.published...)
}

// Negotiated lists the subprotocol picked for every accepted handshake.
func (r *Router) Negotiated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.negotiated...)
}

// SendGoodbye starts a router-side goodbye on every joined connection.
func (r *Router) SendGoodbye(reason string) {
	for _, c := range r.snapshot() {
		c.wmu.Lock()
		joined := c.joined
		c.goodbye = joined
		c.wmu.Unlock()
		if joined {
			_ = r.write(c, wamp.Message{wamp.MsgGoodbye, map[string]any{}, reason})
		}
	}
}

// SendRaw writes data as a text message to every connection that finished
// the websocket handshake.
func (r *Router) SendRaw(data []byte) {
	for _, c := range r.snapshot() {
		if c.serializer == nil {
			continue
		}
		c.wmu.Lock()
		_ = wsutil.WriteServerMessage(c, ws.OpText, data)
		c.wmu.Unlock()
	}
}

// DropAll closes every client socket without a close handshake.
func (r *Router) DropAll() {
	for _, c := range r.snapshot() {
		_ = c.Close()
	}
}

// Close stops accepting, drops clients and waits for handlers to exit.
func (r *Router) Close() {
	_ = r.ln.Close()
	r.DropAll()
	r.wg.Wait()
}

func (r *Router) snapshot() []*routerConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*routerConn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Router) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		c := &routerConn{Conn: conn}
		r.mu.Lock()
		r.accepted++
		r.conns[c] = struct{}{}
		r.mu.Unlock()

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer func() {
				_ = c.Close()
				r.mu.Lock()
				delete(r.conns, c)
				r.mu.Unlock()
			}()
			r.serve(c)
		}()
	}
}

func (r *Router) serve(c *routerConn) {
	u := ws.Upgrader{
		Protocol: func(p []byte) bool {
			for _, want := range r.protocols {
				if string(p) == want {
					return true
				}
			}
			return false
		},
	}
	hs, err := u.Upgrade(c)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.negotiated = append(r.negotiated, hs.Protocol)
	r.mu.Unlock()
	if hs.Protocol == "" {
		// the client is expected to give up on its own
		_, _, _ = wsutil.ReadClientData(c)
		return
	}
	ser, err := wamp.SerializerForSubprotocol(hs.Protocol)
	if err != nil {
		return
	}
	c.serializer = ser

	for {
		data, _, err := wsutil.ReadClientData(c)
		if err != nil {
			return
		}
		msg, err := ser.Unmarshal(data)
		if err != nil {
			return
		}
		typ, err := msg.Type()
		if err != nil {
			return
		}
		switch typ {
		case wamp.MsgHello:
			r.mu.Lock()
			r.hellos = append(r.hellos, msg)
			r.mu.Unlock()
			if !r.answerHello(c) {
				return
			}
		case wamp.MsgGoodbye:
			r.mu.Lock()
			r.goodbyes = append(r.goodbyes, msg)
			r.mu.Unlock()
			c.wmu.Lock()
			initiated := c.goodbye
			c.joined = false
			c.wmu.Unlock()
			if initiated {
				return
			}
			_ = r.write(c, wamp.Message{wamp.MsgGoodbye, map[string]any{}, wamp.CloseGoodbyeAndOut})
		case wamp.MsgPublish:
			r.mu.Lock()
			r.published = append(r.published, msg)
			r.mu.Unlock()
		}
	}
}

func (r *Router) answerHello(c *routerConn) bool {
	switch r.behavior {
	case DropOnHello:
		return false
	case Abort:
		_ = r.write(c, wamp.Message{wamp.MsgAbort, map[string]any{}, ReasonNoSuchRealm})
		return true
	default:
		c.wmu.Lock()
		c.joined = true
		c.wmu.Unlock()
		welcome := wamp.Message{wamp.MsgWelcome, r.sessionID, map[string]any{
			"roles": map[string]any{"broker": map[string]any{}},
		}}
		return r.write(c, welcome) == nil
	}
}

func (r *Router) write(c *routerConn, msg wamp.Message) error {
	data, err := c.serializer.Marshal(msg)
	if err != nil {
		return err
	}
	op := ws.OpText
	if c.serializer.Binary() {
		op = ws.OpBinary
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteServerMessage(c, op, data)
}
