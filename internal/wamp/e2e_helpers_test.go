package wamp_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wampctl/internal/testutil/wamptest"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
)

func tcpTransport(r *wamptest.Router) transport.Config {
	return transport.Config{
		Type: transport.KindWebSocket,
		URL:  r.URL(false),
		Endpoint: transport.Endpoint{
			Type: transport.EndpointTCP,
			Host: "127.0.0.1",
			Port: r.Port(),
		},
	}
}

func unixTransport(r *wamptest.Router) transport.Config {
	return transport.Config{
		URL:      r.URL(false),
		Endpoint: transport.Endpoint{Type: transport.EndpointUnix, Path: r.Path()},
	}
}

// countingSession counts loss notifications reaching the session.
type countingSession struct {
	*wamp.ApplicationSession
	closes atomic.Int32
}

func (c *countingSession) OnClose(err error) {
	c.closes.Add(1)
	c.ApplicationSession.OnClose(err)
}

func joinedSession(realm string) (*wamp.ApplicationSession, chan uint64) {
	joined := make(chan uint64, 4)
	sess := wamp.NewApplicationSession(wamp.ComponentConfig{Realm: realm}, wamp.WithJoinHandler(
		func(_ context.Context, s *wamp.ApplicationSession) error {
			id, _ := s.SessionID()
			joined <- id
			return nil
		},
	))
	return sess, joined
}

func waitJoined(t *testing.T, joined <-chan uint64) uint64 {
	t.Helper()
	select {
	case id := <-joined:
		return id
	case <-time.After(5 * time.Second):
		t.Fatalf("session never joined")
		return 0
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
