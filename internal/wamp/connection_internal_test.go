package wamp

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/danmuck/wampctl/internal/testutil/testlog"
	"github.com/danmuck/wampctl/internal/transport"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	sess := NewApplicationSession(ComponentConfig{Realm: "realm1"})
	c, err := NewConnection(sess, []transport.Config{tcpConfig()}, DefaultConnectionOptions())
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	return c
}

func TestAwaitKeepsResolvedProtocolOnCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		c := newTestConnection(t)
		proto := newProtocol(&url.URL{Scheme: "ws", Host: "127.0.0.1"}, DefaultSerializers(), c.session)
		pending := newPendingConnection()
		pending.settle(proto, nil)

		got, err := c.await(ctx, pending)
		switch {
		case err == nil:
			if got != proto {
				t.Fatalf("run %d: unexpected protocol %p", i, got)
			}
		case errors.Is(err, context.Canceled):
			if c.Protocol() != proto {
				t.Fatalf("run %d: resolved protocol dropped on cancel", i)
			}
		default:
			t.Fatalf("run %d: unexpected error %v", i, err)
		}
		select {
		case <-proto.Lost():
			t.Fatalf("run %d: resolved protocol was closed", i)
		default:
		}
	}
}

func TestAwaitLeavesInFlightConnectOnCancel(t *testing.T) {
	testlog.Start(t)
	c := newTestConnection(t)
	pending := newPendingConnection()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.await(ctx, pending); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Protocol() != nil {
		t.Fatalf("no protocol should be kept for an unsettled connect")
	}
	pending.settle(nil, errors.New("refused"))
}
