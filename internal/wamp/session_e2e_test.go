package wamp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/wampctl/internal/testutil/testlog"
	"github.com/danmuck/wampctl/internal/testutil/tlstest"
	"github.com/danmuck/wampctl/internal/testutil/wamptest"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, cfg transport.Config, sess wamp.Session, opts ...wamp.ConnectOption) *wamp.Protocol {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pending, err := wamp.ConnectTo(ctx, cfg, sess, opts...)
	require.NoError(t, err)
	proto, err := pending.Wait(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proto.Close() })
	return proto
}

func TestSessionJoinAndLeaveOverTCP(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t)
	sess, joined := joinedSession("realm1")

	proto := connect(t, tcpTransport(router), sess)
	require.Equal(t, "wamp.2.json", proto.Serializer().Subprotocol())
	require.Equal(t, router.SessionID(), waitJoined(t, joined))

	hellos := router.Hellos()
	require.Len(t, hellos, 1)
	require.Equal(t, "realm1", hellos[0].Str(1))

	require.NoError(t, sess.Publish("com.example.tick", []any{1}, nil))
	waitFor(t, "publish", func() bool { return len(router.Published()) == 1 })
	require.Equal(t, "com.example.tick", router.Published()[0].Str(3))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Leave(ctx, wamp.CloseSystemShutdown))
	require.Len(t, router.Goodbyes(), 1)
	require.Equal(t, wamp.CloseSystemShutdown, router.Goodbyes()[0].Str(2))

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not done after leave")
	}
	require.NoError(t, sess.Err())
	_, active := sess.SessionID()
	require.False(t, active)
}

func TestSessionAnnouncesRolesAndKeepsWelcomeDetails(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t)
	joined := make(chan uint64, 1)
	sess := wamp.NewApplicationSession(wamp.ComponentConfig{Realm: "realm1"},
		wamp.WithRoles(map[string]any{"subscriber": map[string]any{}}),
		wamp.WithJoinHandler(func(_ context.Context, s *wamp.ApplicationSession) error {
			id, _ := s.SessionID()
			joined <- id
			return nil
		}),
	)
	connect(t, tcpTransport(router), sess)
	waitJoined(t, joined)

	roles, _ := router.Hellos()[0].Dict(2)["roles"].(map[string]any)
	require.Contains(t, roles, "subscriber")
	require.NotContains(t, roles, "publisher")

	offered, _ := sess.Details()["roles"].(map[string]any)
	require.Contains(t, offered, "broker")
}

func TestSessionOverUnixSocket(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewUnix(t)
	sess, joined := joinedSession("realm1")
	proto := connect(t, unixTransport(router), sess)
	require.Equal(t, transport.EndpointUnix, proto.Stream().Target().Endpoint)
	waitJoined(t, joined)
}

func TestSessionOverTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	auth := tlstest.NewAuthority(t, dir, "wampctl-test-ca")
	router := wamptest.NewTLS(t, auth.ServerTLSConfig(t, dir, "router"))
	clientTLS, err := transport.TLSFiles{CAFile: auth.CAFile()}.ClientTLSConfig()
	require.NoError(t, err)

	cfg := tcpTransport(router)
	cfg.URL = router.URL(true)
	sess, joined := joinedSession("realm1")
	connect(t, cfg, sess, wamp.WithConnector(&transport.Connector{TLSConfig: clientTLS}))
	waitJoined(t, joined)
}

func TestSessionNegotiatesCBOR(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t, wamptest.WithSubprotocols("wamp.2.cbor"))
	sess, joined := joinedSession("realm1")
	proto := connect(t, tcpTransport(router), sess)
	require.Equal(t, "wamp.2.cbor", proto.Serializer().Subprotocol())
	require.Equal(t, router.SessionID(), waitJoined(t, joined))
	require.Equal(t, []string{"wamp.2.cbor"}, router.Negotiated())
}

func TestConnectFailsWithoutSubprotocol(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t, wamptest.WithSubprotocols())
	sess := wamp.NewApplicationSession(wamp.ComponentConfig{Realm: "realm1"})
	pending, err := wamp.ConnectTo(context.Background(), tcpTransport(router), sess)
	require.NoError(t, err)
	_, err = pending.Wait(context.Background())
	require.ErrorIs(t, err, wamp.ErrSubprotocolNotNegotiated)
}

func TestSessionAbort(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t, wamptest.WithBehavior(wamptest.Abort))
	sess := wamp.NewApplicationSession(wamp.ComponentConfig{Realm: "nope"})
	connect(t, tcpTransport(router), sess)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not done after abort")
	}
	require.ErrorIs(t, sess.Err(), wamp.ErrAborted)
	require.ErrorIs(t, sess.Leave(context.Background(), ""), wamp.ErrNotJoined)
}

func TestSessionRouterGoodbye(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t)
	sess, joined := joinedSession("realm1")
	connect(t, tcpTransport(router), sess)
	waitJoined(t, joined)

	router.SendGoodbye(wamp.CloseSystemShutdown)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not done after router goodbye")
	}
	require.NoError(t, sess.Err())
	waitFor(t, "goodbye reply", func() bool { return len(router.Goodbyes()) == 1 })
	require.Equal(t, wamp.CloseGoodbyeAndOut, router.Goodbyes()[0].Str(2))
}

func TestSessionEmptyRealmNeverJoins(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t)
	sess := wamp.NewApplicationSession(wamp.ComponentConfig{Realm: "  "})
	connect(t, tcpTransport(router), sess)
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not done")
	}
	require.ErrorIs(t, sess.Err(), wamp.ErrInvalidRealm)
	require.Empty(t, router.Hellos())
}

func TestRouterDropNotifiesSessionOnce(t *testing.T) {
	testlog.Start(t)
	for _, wire := range []bool{true, false} {
		router := wamptest.NewTCP(t)
		base, joined := joinedSession("realm1")
		sess := &countingSession{ApplicationSession: base}

		var seen []transport.EndpointType
		wiring := func(kind transport.EndpointType) bool {
			seen = append(seen, kind)
			return wire
		}
		proto := connect(t, tcpTransport(router), sess, wamp.WithLossWiring(wiring))
		waitJoined(t, joined)
		require.Equal(t, []transport.EndpointType{transport.EndpointTCP}, seen)

		router.DropAll()
		select {
		case <-proto.Lost():
		case <-time.After(5 * time.Second):
			t.Fatalf("wire=%v: protocol never saw the loss", wire)
		}
		require.True(t, proto.Stream().IsLost())
		time.Sleep(20 * time.Millisecond)
		require.Equal(t, int32(1), sess.closes.Load(), "wire=%v", wire)
		_, active := sess.SessionID()
		require.False(t, active)
	}
}

func TestStreamLossReachesProtocolWhenWired(t *testing.T) {
	testlog.Start(t)
	reset := errors.New("peer reset")
	for _, wire := range []bool{true, false} {
		router := wamptest.NewTCP(t)
		base, joined := joinedSession("realm1")
		sess := &countingSession{ApplicationSession: base}
		wiring := func(transport.EndpointType) bool { return wire }
		proto := connect(t, tcpTransport(router), sess, wamp.WithLossWiring(wiring))
		waitJoined(t, joined)

		proto.Stream().ConnectionLost(reset)
		select {
		case <-proto.Lost():
		case <-time.After(5 * time.Second):
			t.Fatalf("wire=%v: protocol never saw the loss", wire)
		}
		require.True(t, proto.Stream().IsLost())
		time.Sleep(20 * time.Millisecond)
		require.Equal(t, int32(1), sess.closes.Load(), "wire=%v", wire)

		if wire {
			require.ErrorIs(t, proto.Err(), reset)
		} else {
			require.Error(t, proto.Err())
			require.NotErrorIs(t, proto.Err(), reset)
		}
	}
}

func TestUndecodableMessageMarksStreamLost(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t)
	sess, joined := joinedSession("realm1")
	proto := connect(t, tcpTransport(router), sess)
	waitJoined(t, joined)

	router.SendRaw([]byte("not a wamp message"))
	select {
	case <-proto.Lost():
	case <-time.After(5 * time.Second):
		t.Fatalf("protocol never saw the bad message")
	}
	require.Error(t, proto.Err())
	require.True(t, proto.Stream().IsLost())
}

func TestProtocolSendAfterLoss(t *testing.T) {
	testlog.Start(t)
	router := wamptest.NewTCP(t)
	sess, joined := joinedSession("realm1")
	proto := connect(t, tcpTransport(router), sess)
	waitJoined(t, joined)

	require.NoError(t, proto.Close())
	require.Nil(t, proto.Err())
	err := proto.Send(wamp.Message{wamp.MsgPublish, 1, map[string]any{}, "t"})
	require.True(t, errors.Is(err, wamp.ErrProtocolClosed))
}
