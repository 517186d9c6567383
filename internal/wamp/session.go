package wamp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/wampctl/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotJoined    = errors.New("wamp: session not joined")
	ErrAborted      = errors.New("wamp: session aborted")
	ErrInvalidRealm = errors.New("wamp: invalid realm")
	ErrInvalidTopic = errors.New("wamp: invalid topic")
)

// ComponentConfig is handed to a SessionFactory. Extra is passed through
// untouched.
type ComponentConfig struct {
	Realm string
	Extra any
}

// SessionFactory builds the session for one run.
type SessionFactory func(cfg ComponentConfig) Session

// Transport is the message-level view of a connection given to a session.
type Transport interface {
	Send(msg Message) error
	Close() error
}

// Session is the protocol state machine driven by a Protocol.
//
// OnOpen, OnMessage and OnClose are called by the protocol. Done is closed
// when the session reached a terminal state (goodbye exchanged or aborted);
// a plain connection drop is not terminal.
type Session interface {
	OnOpen(t Transport)
	OnMessage(msg Message)
	OnClose(err error)
	SessionID() (uint64, bool)
	Leave(ctx context.Context, reason string) error
	Done() <-chan struct{}
	Err() error
}

// JoinHandler runs once per WELCOME. ctx is cancelled when the connection
// carrying the session closes.
type JoinHandler func(ctx context.Context, s *ApplicationSession) error

type SessionOption func(*ApplicationSession)

// WithJoinHandler sets the callback run after the router welcomes the session.
func WithJoinHandler(fn JoinHandler) SessionOption {
	return func(s *ApplicationSession) {
		s.onJoin = fn
	}
}

// WithRoles overrides the roles announced in HELLO.
func WithRoles(roles map[string]any) SessionOption {
	return func(s *ApplicationSession) {
		s.roles = roles
	}
}

// ApplicationSession is a minimal client session: it joins a realm, can
// publish, and performs the goodbye exchange.
type ApplicationSession struct {
	cfg    ComponentConfig
	onJoin JoinHandler
	roles  map[string]any

	mu          sync.Mutex
	transport   Transport
	id          uint64
	details     map[string]any
	goodbyeSent bool
	leaveDone   chan struct{}
	joinCancel  context.CancelFunc

	requestID atomic.Uint64

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

func NewApplicationSession(cfg ComponentConfig, opts ...SessionOption) *ApplicationSession {
	s := &ApplicationSession{
		cfg: cfg,
		roles: map[string]any{
			"publisher":  map[string]any{},
			"subscriber": map[string]any{},
		},
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the component config the session was built from.
func (s *ApplicationSession) Config() ComponentConfig {
	return s.cfg
}

func (s *ApplicationSession) OnOpen(t Transport) {
	realm := strings.TrimSpace(s.cfg.Realm)
	s.mu.Lock()
	s.transport = t
	s.goodbyeSent = false
	s.leaveDone = make(chan struct{})
	s.mu.Unlock()

	if realm == "" {
		s.finish(ErrInvalidRealm)
		_ = t.Close()
		return
	}
	hello := Message{MsgHello, realm, map[string]any{"roles": s.roles}}
	if err := t.Send(hello); err != nil {
		log.Warn().Err(err).Str("realm", realm).Msg("wamp.ApplicationSession.OnOpen hello failed")
		_ = t.Close()
	}
}

func (s *ApplicationSession) OnMessage(msg Message) {
	typ, err := msg.Type()
	if err != nil {
		log.Warn().Err(err).Msg("wamp.ApplicationSession.OnMessage dropped")
		return
	}

	switch typ {
	case MsgWelcome:
		s.handleWelcome(msg)
	case MsgAbort:
		reason := msg.Str(2)
		log.Warn().Str("realm", s.cfg.Realm).Str("reason", reason).Msg("wamp.ApplicationSession abort")
		s.finish(fmt.Errorf("%w: %s", ErrAborted, reason))
		s.closeTransport()
	case MsgGoodbye:
		s.handleGoodbye(msg)
	case MsgPublished:
		log.Debug().Any("msg", []any(msg)).Msg("wamp.ApplicationSession published")
	case MsgError:
		log.Warn().Any("msg", []any(msg)).Msg("wamp.ApplicationSession error")
	default:
		log.Debug().Int("type", typ).Msg("wamp.ApplicationSession unhandled message")
	}
}

func (s *ApplicationSession) handleWelcome(msg Message) {
	id, err := msg.ID(1)
	if err != nil || id == 0 {
		log.Warn().Err(err).Msg("wamp.ApplicationSession welcome without session id")
		s.closeTransport()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.id != 0 {
		s.mu.Unlock()
		cancel()
		log.Warn().Uint64("session_id", id).Msg("wamp.ApplicationSession duplicate welcome")
		return
	}
	s.id = id
	s.details = msg.Dict(2)
	s.joinCancel = cancel
	onJoin := s.onJoin
	s.mu.Unlock()

	observability.RecordSessionJoined(s.cfg.Realm)
	log.Info().Str("realm", s.cfg.Realm).Uint64("session_id", id).Msg("wamp.ApplicationSession joined")

	if onJoin == nil {
		return
	}
	go func() {
		if err := onJoin(ctx, s); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Uint64("session_id", id).Msg("wamp.ApplicationSession join handler failed")
		}
	}()
}

func (s *ApplicationSession) handleGoodbye(msg Message) {
	s.mu.Lock()
	sent := s.goodbyeSent
	t := s.transport
	leaveDone := s.leaveDone
	s.id = 0
	s.mu.Unlock()

	if sent {
		observability.RecordSessionLeave("acknowledged")
		s.signalLeave(leaveDone)
	} else {
		log.Info().Str("reason", msg.Str(2)).Msg("wamp.ApplicationSession router goodbye")
		if t != nil {
			_ = t.Send(Message{MsgGoodbye, map[string]any{}, CloseGoodbyeAndOut})
		}
	}
	s.finish(nil)
	s.closeTransport()
}

func (s *ApplicationSession) OnClose(err error) {
	s.mu.Lock()
	s.transport = nil
	s.id = 0
	leaveDone := s.leaveDone
	sent := s.goodbyeSent
	cancel := s.joinCancel
	s.joinCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sent {
		s.signalLeave(leaveDone)
	}
	if err != nil {
		log.Debug().Err(err).Msg("wamp.ApplicationSession transport closed")
	}
}

// SessionID returns the router-assigned id while joined.
func (s *ApplicationSession) SessionID() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.id != 0
}

// Details returns the WELCOME details of the current session.
func (s *ApplicationSession) Details() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details
}

// Leave sends GOODBYE and waits for the router's reply or the connection to
// drop, whichever comes first.
func (s *ApplicationSession) Leave(ctx context.Context, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = CloseNormal
	}
	s.mu.Lock()
	if s.id == 0 || s.transport == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}
	t := s.transport
	s.goodbyeSent = true
	leaveDone := s.leaveDone
	s.mu.Unlock()

	if err := t.Send(Message{MsgGoodbye, map[string]any{}, reason}); err != nil {
		observability.RecordSessionLeave("send_failed")
		return err
	}
	select {
	case <-leaveDone:
		return nil
	case <-ctx.Done():
		observability.RecordSessionLeave("timeout")
		return ctx.Err()
	}
}

// Publish sends an unacknowledged event.
func (s *ApplicationSession) Publish(topic string, args []any, kwargs map[string]any) error {
	if strings.TrimSpace(topic) == "" {
		return ErrInvalidTopic
	}
	s.mu.Lock()
	t := s.transport
	joined := s.id != 0
	s.mu.Unlock()
	if !joined || t == nil {
		return ErrNotJoined
	}

	msg := Message{MsgPublish, s.requestID.Add(1), map[string]any{}, topic}
	if len(args) > 0 || len(kwargs) > 0 {
		if args == nil {
			args = []any{}
		}
		msg = append(msg, args)
	}
	if len(kwargs) > 0 {
		msg = append(msg, kwargs)
	}
	return t.Send(msg)
}

func (s *ApplicationSession) Done() <-chan struct{} {
	return s.done
}

func (s *ApplicationSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *ApplicationSession) finish(err error) {
	s.doneOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *ApplicationSession) closeTransport() {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// signalLeave closes ch under the session lock so concurrent closers cannot
// race.
func (s *ApplicationSession) signalLeave(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	closeOnce(ch)
}

func closeOnce(ch chan struct{}) {
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}
