package wamp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/wampctl/internal/testutil/testlog"
	"github.com/danmuck/wampctl/internal/transport"
)

type stubConnector struct {
	release chan struct{}
	err     error
	panicV  any
	calls   int
}

func (c *stubConnector) Connect(ctx context.Context, _ transport.Target, _ transport.ProtocolFactory) (*transport.Stream, transport.Protocol, error) {
	c.calls++
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if c.panicV != nil {
		panic(c.panicV)
	}
	return nil, nil, c.err
}

func tcpConfig() transport.Config {
	return transport.Config{
		URL:      "ws://127.0.0.1:8080/ws",
		Endpoint: transport.Endpoint{Type: transport.EndpointTCP, Host: "127.0.0.1", Port: 8080},
	}
}

func TestConnectToForwardsConnectorErrorUnchanged(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("connection refused")
	stub := &stubConnector{err: boom}
	sess := NewApplicationSession(ComponentConfig{Realm: "realm1"})

	pending, err := ConnectTo(context.Background(), tcpConfig(), sess, WithConnector(stub))
	if err != nil {
		t.Fatalf("connect to: %v", err)
	}
	proto, err := pending.Wait(context.Background())
	if err != boom {
		t.Fatalf("expected the exact connector error, got %v", err)
	}
	if proto != nil {
		t.Fatalf("expected nil protocol")
	}
	if stub.calls != 1 {
		t.Fatalf("connector calls=%d", stub.calls)
	}
}

func TestConnectToPendingUntilSettled(t *testing.T) {
	testlog.Start(t)
	stub := &stubConnector{release: make(chan struct{}), err: errors.New("late")}
	sess := NewApplicationSession(ComponentConfig{Realm: "realm1"})
	pending, err := ConnectTo(context.Background(), tcpConfig(), sess, WithConnector(stub))
	if err != nil {
		t.Fatalf("connect to: %v", err)
	}
	if _, err := pending.Result(); !errors.Is(err, ErrConnectPending) {
		t.Fatalf("expected ErrConnectPending, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pending.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait deadline, got %v", err)
	}

	close(stub.release)
	select {
	case <-pending.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("pending never settled")
	}
	if _, err := pending.Result(); err == nil || err.Error() != "late" {
		t.Fatalf("unexpected settled error=%v", err)
	}
}

func TestConnectToRecoversConnectorPanic(t *testing.T) {
	testlog.Start(t)
	stub := &stubConnector{panicV: "boom"}
	sess := NewApplicationSession(ComponentConfig{Realm: "realm1"})
	pending, err := ConnectTo(context.Background(), tcpConfig(), sess, WithConnector(stub))
	if err != nil {
		t.Fatalf("connect to: %v", err)
	}
	if _, err := pending.Wait(context.Background()); !errors.Is(err, ErrConnectPanic) {
		t.Fatalf("expected ErrConnectPanic, got %v", err)
	}
}

func TestConnectToConfigErrorsAreSynchronous(t *testing.T) {
	testlog.Start(t)
	stub := &stubConnector{}
	sess := NewApplicationSession(ComponentConfig{Realm: "realm1"})

	raw := tcpConfig()
	raw.Type = transport.KindRawSocket
	if _, err := ConnectTo(context.Background(), raw, sess, WithConnector(stub)); !errors.Is(err, ErrUnsupportedTransport) {
		t.Fatalf("expected ErrUnsupportedTransport, got %v", err)
	}

	unknown := tcpConfig()
	unknown.Endpoint.Type = "serial"
	if _, err := ConnectTo(context.Background(), unknown, sess, WithConnector(stub)); !errors.Is(err, transport.ErrUnknownTransportType) {
		t.Fatalf("expected ErrUnknownTransportType, got %v", err)
	}

	v6 := tcpConfig()
	v6.Endpoint.Version = 6
	if _, err := ConnectTo(context.Background(), v6, sess, WithConnector(stub)); !errors.Is(err, transport.ErrUnsupportedAddressFamily) {
		t.Fatalf("expected ErrUnsupportedAddressFamily, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("connector must not run for config errors, calls=%d", stub.calls)
	}
}
