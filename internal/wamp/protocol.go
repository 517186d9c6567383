package wamp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wampctl/internal/transport"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog/log"
)

var (
	ErrSubprotocolNotNegotiated = errors.New("wamp: websocket subprotocol not negotiated")
	ErrProtocolClosed           = errors.New("wamp: protocol closed")
)

// Protocol is the websocket framing bound to one stream. It owns the read loop
// and forwards decoded messages to its session.
type Protocol struct {
	url         *url.URL
	serializers []Serializer
	session     Session

	stream     *transport.Stream
	reader     io.Reader
	serializer Serializer
	wmu        sync.Mutex

	// wired is set when the stream's loss hook delivers to ConnectionLost.
	wired    atomic.Bool
	lostOnce sync.Once
	lost     chan struct{}
	mu       sync.Mutex
	lostErr  error
}

func newProtocol(u *url.URL, serializers []Serializer, sess Session) *Protocol {
	return &Protocol{
		url:         u,
		serializers: serializers,
		session:     sess,
		lost:        make(chan struct{}),
	}
}

// ConnectionMade runs the client websocket handshake over s, opens the
// session and starts the read loop.
func (p *Protocol) ConnectionMade(ctx context.Context, s *transport.Stream) error {
	p.stream = s

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.SetDeadline(time.Now())
	})
	defer stop()

	protocols := make([]string, 0, len(p.serializers))
	for _, ser := range p.serializers {
		protocols = append(protocols, ser.Subprotocol())
	}
	dialer := ws.Dialer{Protocols: protocols}
	br, hs, err := dialer.Upgrade(s, p.url)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if !stop() {
		return ctx.Err()
	}
	_ = s.SetDeadline(time.Time{})

	for _, ser := range p.serializers {
		if ser.Subprotocol() == hs.Protocol {
			p.serializer = ser
			break
		}
	}
	if p.serializer == nil {
		return fmt.Errorf("%w: offered=%v got=%q", ErrSubprotocolNotNegotiated, protocols, hs.Protocol)
	}

	p.reader = s
	if br != nil {
		p.reader = br
	}

	log.Debug().
		Str("url", p.url.String()).
		Str("subprotocol", hs.Protocol).
		Msg("wamp.Protocol.ConnectionMade handshake complete")

	p.session.OnOpen(p)
	go p.readLoop()
	return nil
}

func (p *Protocol) readLoop() {
	rw := struct {
		io.Reader
		io.Writer
	}{p.reader, lockedWriter{p}}

	for {
		data, _, err := wsutil.ReadServerData(rw)
		if err != nil {
			p.lose(normalizeCloseErr(err))
			return
		}
		msg, err := p.serializer.Unmarshal(data)
		if err != nil {
			log.Warn().Err(err).Msg("wamp.Protocol.readLoop undecodable message")
			_ = p.closeWith(ws.StatusUnsupportedData, "undecodable message")
			p.lose(err)
			return
		}
		p.session.OnMessage(msg)
	}
}

// Send encodes and writes msg as one websocket message.
func (p *Protocol) Send(msg Message) error {
	select {
	case <-p.lost:
		return ErrProtocolClosed
	default:
	}
	data, err := p.serializer.Marshal(msg)
	if err != nil {
		return err
	}
	op := ws.OpText
	if p.serializer.Binary() {
		op = ws.OpBinary
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return wsutil.WriteClientMessage(p.stream, op, data)
}

// Close sends a normal close frame and tears the connection down.
func (p *Protocol) Close() error {
	select {
	case <-p.lost:
		return nil
	default:
	}
	err := p.closeWith(ws.StatusNormalClosure, "")
	p.lose(nil)
	return err
}

// lose reports a loss seen by the protocol itself. It goes through the stream
// so the stream's hook decides delivery; an unwired protocol is notified
// directly.
func (p *Protocol) lose(err error) {
	p.stream.ConnectionLost(err)
	if !p.wired.Load() {
		p.ConnectionLost(err)
	}
}

// wireLoss redirects the stream's loss hook to ConnectionLost.
func (p *Protocol) wireLoss(s *transport.Stream) {
	s.SetConnectionLost(p.ConnectionLost)
	p.wired.Store(true)
}

func (p *Protocol) closeWith(code ws.StatusCode, reason string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return wsutil.WriteClientMessage(p.stream, ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// ConnectionLost is the protocol's own loss handler. It runs at most once:
// it closes the stream, records err and notifies the session.
func (p *Protocol) ConnectionLost(err error) {
	p.lostOnce.Do(func() {
		p.mu.Lock()
		p.lostErr = err
		p.mu.Unlock()
		if p.stream != nil {
			_ = p.stream.Close()
		}
		close(p.lost)
		p.session.OnClose(err)
	})
}

// Lost is closed once the connection is gone.
func (p *Protocol) Lost() <-chan struct{} {
	return p.lost
}

// Err reports why the connection was lost; nil for a clean close.
func (p *Protocol) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lostErr
}

func (p *Protocol) Session() Session {
	return p.session
}

func (p *Protocol) Stream() *transport.Stream {
	return p.stream
}

// Serializer returns the negotiated serializer.
func (p *Protocol) Serializer() Serializer {
	return p.serializer
}

type lockedWriter struct {
	p *Protocol
}

func (w lockedWriter) Write(b []byte) (int, error) {
	w.p.wmu.Lock()
	defer w.p.wmu.Unlock()
	return w.p.stream.Write(b)
}

func normalizeCloseErr(err error) error {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		if closed.Code == ws.StatusNormalClosure || closed.Code == ws.StatusGoingAway {
			return nil
		}
		return err
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
