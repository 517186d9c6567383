package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
	"github.com/rs/zerolog/log"
)

var (
	ErrTerminated       = errors.New("runner: terminated by signal")
	ErrAlreadyRun       = errors.New("runner: already run")
	ErrNilSession       = errors.New("runner: session factory returned nil")
	ErrNilFactory       = errors.New("runner: nil session factory")
	ErrInvalidLifecycle = errors.New("runner: invalid lifecycle transition")
)

// State is one step of a run's lifecycle.
type State string

const (
	StateIdle              State = "idle"
	StateLoopConfigured    State = "loop_configured"
	StateSessionCreated    State = "session_created"
	StateConnectionOpening State = "connection_opening"
	StateRunning           State = "running"
	StateShuttingDown      State = "shutting_down"
	StateClosed            State = "closed"
)

var stateOrder = map[State]int{
	StateIdle:              0,
	StateLoopConfigured:    1,
	StateSessionCreated:    2,
	StateConnectionOpening: 3,
	StateRunning:           4,
	StateShuttingDown:      5,
	StateClosed:            6,
}

// Connection is the multi-transport opener driven by a run.
type Connection interface {
	Open(ctx context.Context) error
	Close() error
}

// ConnectionFactory builds the Connection for a freshly created session.
type ConnectionFactory func(sess wamp.Session, transports []transport.Config) (Connection, error)

// Config configures one Runner.
type Config struct {
	Realm      string
	Extra      any
	Transports []transport.Config
	Connection wamp.ConnectionOptions
	// StopSignals request shutdown; nil uses DefaultStopSignals.
	StopSignals []os.Signal
	// LeaveTimeout bounds the goodbye handshake; 0 waits as long as it takes.
	LeaveTimeout time.Duration
	LeaveReason  string
}

type Option func(*Runner)

func WithConnectionFactory(f ConnectionFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.newConnection = f
		}
	}
}

// WithTransitionHook observes every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(r *Runner) {
		r.onTransition = fn
	}
}

// WithSignalNotify replaces os/signal registration.
func WithSignalNotify(notify func(chan<- os.Signal, ...os.Signal), stop func(chan<- os.Signal)) Option {
	return func(r *Runner) {
		if notify != nil && stop != nil {
			r.notify = notify
			r.stopNotify = stop
		}
	}
}

// Runner opens one session over the configured transports and tears it down
// with a goodbye when interrupted or finished. A Runner runs once.
type Runner struct {
	cfg           Config
	newConnection ConnectionFactory
	onTransition  func(from, to State)
	notify        func(chan<- os.Signal, ...os.Signal)
	stopNotify    func(chan<- os.Signal)

	mu               sync.Mutex
	state            State
	used             bool
	signalsInstalled bool
	conn             Connection
}

func New(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		state:      StateIdle,
		notify:     signal.Notify,
		stopNotify: signal.Stop,
	}
	r.newConnection = func(sess wamp.Session, transports []transport.Config) (Connection, error) {
		conn, err := wamp.NewConnection(sess, transports, r.cfg.Connection)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SignalsInstalled reports whether stop-signal handling was available for
// the run.
func (r *Runner) SignalsInstalled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signalsInstalled
}

// Run creates the session, opens it and blocks until it ends or a shutdown is
// requested. Cancelling ctx (user interrupt) and receiving a stop signal both
// lead to the same teardown: leave the session if it is still joined, then
// close the connection. Neither is reported as an error.
//
// The returned error is the open failure, the leave failure, or both.
func (r *Runner) Run(ctx context.Context, factory wamp.SessionFactory) error {
	if factory == nil {
		return ErrNilFactory
	}
	r.mu.Lock()
	if r.used {
		r.mu.Unlock()
		return ErrAlreadyRun
	}
	r.used = true
	r.mu.Unlock()

	runCtx, requestShutdown := context.WithCancelCause(ctx)
	defer requestShutdown(nil)

	sigCh := r.installSignals()
	if err := r.transition(StateLoopConfigured); err != nil {
		return err
	}
	if sigCh != nil {
		go func() {
			select {
			case sig := <-sigCh:
				log.Info().Str("signal", sig.String()).Msg("runner.Runner stop signal")
				requestShutdown(fmt.Errorf("%w: %s", ErrTerminated, sig))
			case <-runCtx.Done():
			}
		}()
	}

	sess := factory(wamp.ComponentConfig{Realm: r.cfg.Realm, Extra: r.cfg.Extra})
	if sess == nil {
		r.closeDown(sigCh)
		return ErrNilSession
	}
	_ = r.transition(StateSessionCreated)

	_ = r.transition(StateConnectionOpening)
	conn, err := r.newConnection(sess, r.cfg.Transports)
	if err != nil {
		r.closeDown(sigCh)
		return err
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	_ = r.transition(StateRunning)
	openErr := conn.Open(runCtx)
	if openErr != nil && runCtx.Err() != nil {
		log.Info().
			Err(openErr).
			AnErr("cause", context.Cause(runCtx)).
			Msg("runner.Runner shutdown requested")
		openErr = nil
	}

	_ = r.transition(StateShuttingDown)
	leaveErr := r.leave(ctx, sess)

	r.closeDown(sigCh)
	return errors.Join(openErr, leaveErr)
}

// leave sends the goodbye when the session is still joined. It uses a context
// detached from cancellation so an interrupted run can still finish it.
func (r *Runner) leave(ctx context.Context, sess wamp.Session) error {
	id, active := sess.SessionID()
	if !active {
		log.Debug().Msg("runner.Runner leave skipped: no active session")
		return nil
	}

	leaveCtx := context.WithoutCancel(ctx)
	if r.cfg.LeaveTimeout > 0 {
		var cancel context.CancelFunc
		leaveCtx, cancel = context.WithTimeout(leaveCtx, r.cfg.LeaveTimeout)
		defer cancel()
	}
	err := sess.Leave(leaveCtx, r.cfg.LeaveReason)
	if errors.Is(err, wamp.ErrNotJoined) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("runner: leave session %d: %w", id, err)
	}
	log.Info().Uint64("session_id", id).Msg("runner.Runner left session")
	return nil
}

func (r *Runner) installSignals() chan os.Signal {
	signals := r.cfg.StopSignals
	if signals == nil {
		signals = DefaultStopSignals()
	}
	if len(signals) == 0 {
		log.Debug().Msg("runner.Runner stop signals unavailable")
		return nil
	}
	ch := make(chan os.Signal, 1)
	r.notify(ch, signals...)
	r.mu.Lock()
	r.signalsInstalled = true
	r.mu.Unlock()
	return ch
}

// closeDown is the single terminal step of a run.
func (r *Runner) closeDown(sigCh chan os.Signal) {
	if sigCh != nil {
		r.stopNotify(sigCh)
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("runner.Runner connection close")
		}
	}
	_ = r.transition(StateClosed)
}

func (r *Runner) transition(to State) error {
	r.mu.Lock()
	from := r.state
	if stateOrder[to] <= stateOrder[from] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidLifecycle, from, to)
	}
	r.state = to
	hook := r.onTransition
	r.mu.Unlock()

	log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("runner.Runner transition")
	if hook != nil {
		hook(from, to)
	}
	return nil
}
