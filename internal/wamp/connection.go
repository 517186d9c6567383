package wamp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/wampctl/internal/observability"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoTransports    = errors.New("wamp: no transports configured")
	ErrConnectionLost  = errors.New("wamp: connection lost")
	ErrConnectionInUse = errors.New("wamp: connection already open")
)

// ConnectionOptions tune retry behavior across transports.
type ConnectionOptions struct {
	// MaxAttempts bounds consecutive failed connection attempts; 0 is unlimited.
	MaxAttempts int
	Backoff     BackoffConfig
	// Reconnect re-dials after an established connection drops without the
	// session having ended.
	Reconnect bool
	Connect   []ConnectOption
}

func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		MaxAttempts: 0,
		Backoff:     DefaultBackoff(),
	}
}

// Connection opens a session over a list of candidate transports, trying them
// in order and backing off between failed attempts.
type Connection struct {
	session    Session
	transports []transport.Config
	opts       ConnectionOptions
	rng        *rand.Rand

	mu      sync.Mutex
	proto   *Protocol
	opening bool
}

func NewConnection(sess Session, transports []transport.Config, opts ConnectionOptions) (*Connection, error) {
	if len(transports) == 0 {
		return nil, ErrNoTransports
	}
	if sess == nil {
		return nil, fmt.Errorf("wamp: nil session")
	}
	list := make([]transport.Config, len(transports))
	copy(list, transports)
	return &Connection{
		session:    sess,
		transports: list,
		opts:       opts,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Open connects and blocks until the session ends, the connection drops for
// good, or ctx ends. On ctx end the live protocol is kept so the caller can
// still say goodbye; Close releases it.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opening {
		c.mu.Unlock()
		return ErrConnectionInUse
	}
	c.opening = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.opening = false
		c.mu.Unlock()
	}()

	attempt := 0
	next := 0
	for {
		attempt++
		cfg := c.transports[next%len(c.transports)]
		next++
		kind := string(cfg.Endpoint.Type)

		pending, err := ConnectTo(ctx, cfg, c.session, c.opts.Connect...)
		if err != nil {
			return err
		}
		observability.RecordConnectAttempt(kind)
		proto, err := c.await(ctx, pending)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			observability.RecordConnectFailure(kind)
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("url", cfg.URL).
				Str("endpoint", kind).
				Msg("wamp.Connection.Open connect failed")
			if !c.shouldRetry(attempt) {
				return err
			}
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		c.setProtocol(proto)
		attempt = 0
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-proto.Lost():
		}
		c.setProtocol(nil)

		select {
		case <-c.session.Done():
			return c.session.Err()
		default:
		}
		lossErr := proto.Err()
		log.Warn().Err(lossErr).Str("url", cfg.URL).Msg("wamp.Connection.Open connection lost")
		if !c.opts.Reconnect {
			if lossErr == nil {
				return ErrConnectionLost
			}
			return fmt.Errorf("%w: %w", ErrConnectionLost, lossErr)
		}
	}
}

// Close drops the live protocol, if any.
func (c *Connection) Close() error {
	c.mu.Lock()
	p := c.proto
	c.proto = nil
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Close()
}

// Protocol returns the live protocol, or nil.
func (c *Connection) Protocol() *Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proto
}

func (c *Connection) setProtocol(p *Protocol) {
	c.mu.Lock()
	c.proto = p
	c.mu.Unlock()
}

func (c *Connection) shouldRetry(attempt int) bool {
	if c.opts.MaxAttempts <= 0 {
		return true
	}
	return attempt < c.opts.MaxAttempts
}

func (c *Connection) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.opts.Backoff.Delay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// await waits for pending. When ctx ends first, a connection that has already
// resolved is kept as the live protocol so the session can still leave; one
// that is still in flight is closed whenever it lands.
func (c *Connection) await(ctx context.Context, pending *PendingConnection) (*Protocol, error) {
	proto, err := pending.Wait(ctx)
	if err == nil || ctx.Err() == nil {
		return proto, err
	}
	if settled, settleErr := pending.Result(); settleErr == nil && settled != nil {
		c.setProtocol(settled)
		return nil, ctx.Err()
	}
	go discardPending(pending)
	return nil, ctx.Err()
}

// discardPending closes a connection that resolved after its waiter left.
func discardPending(p *PendingConnection) {
	<-p.Done()
	if proto, err := p.Result(); err == nil && proto != nil {
		_ = proto.Close()
	}
}
