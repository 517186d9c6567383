package config

import (
	"github.com/danmuck/wampctl/internal/runner"
	"github.com/danmuck/wampctl/internal/transport"
	"github.com/danmuck/wampctl/internal/wamp"
)

// RunnerOptions maps cfg onto a runner.Config. TLS material is read from disk
// here, so this is where missing certificate files surface.
func (c RunnerConfig) RunnerOptions() (runner.Config, error) {
	serializers, err := wamp.SerializersByName(c.Serializers)
	if err != nil {
		return runner.Config{}, err
	}
	tlsCfg, err := c.TLS.ClientTLSConfig()
	if err != nil {
		return runner.Config{}, err
	}
	signals, err := runner.ParseStopSignals(c.StopSignals)
	if err != nil {
		return runner.Config{}, err
	}

	var extra any
	if c.Extra != nil {
		extra = c.Extra
	}
	transports := make([]transport.Config, len(c.Transports))
	copy(transports, c.Transports)

	return runner.Config{
		Realm:      c.Realm,
		Extra:      extra,
		Transports: transports,
		Connection: wamp.ConnectionOptions{
			MaxAttempts: c.MaxAttempts,
			Backoff:     c.Retry,
			Reconnect:   c.Reconnect,
			Connect: []wamp.ConnectOption{
				wamp.WithConnector(&transport.Connector{TLSConfig: tlsCfg}),
				wamp.WithSerializers(serializers),
			},
		},
		StopSignals:  signals,
		LeaveTimeout: c.LeaveTimeout,
		LeaveReason:  c.LeaveReason,
	}, nil
}
