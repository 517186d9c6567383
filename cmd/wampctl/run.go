package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/danmuck/wampctl/internal/config"
	"github.com/danmuck/wampctl/internal/logging"
	"github.com/danmuck/wampctl/internal/observability"
	"github.com/danmuck/wampctl/internal/runner"
	"github.com/danmuck/wampctl/internal/wamp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Join the configured realm and stay connected until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunnerConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cfg.LogLevel != "" {
				logging.SetLevel(cfg.LogLevel)
			}
			rc, err := cfg.RunnerOptions()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var ln net.Listener
			if cfg.MetricsAddr != "" {
				ln, err = net.Listen("tcp", cfg.MetricsAddr)
				if err != nil {
					return err
				}
				log.Info().Str("addr", ln.Addr().String()).Msg("wampctl.metrics listening")
			}

			log.Info().
				Str("realm", cfg.Realm).
				Int("transports", len(cfg.Transports)).
				Msg("wampctl.run starting")

			g, gctx := errgroup.WithContext(ctx)
			metricsCtx, stopMetrics := context.WithCancel(gctx)
			defer stopMetrics()
			g.Go(func() error {
				defer stopMetrics()
				return runner.New(rc).Run(gctx, sessionFactory(cfg.Publish))
			})
			if ln != nil {
				g.Go(func() error {
					return observability.ServeMetrics(metricsCtx, ln)
				})
			}
			return g.Wait()
		},
	}
}

func sessionFactory(pub config.PublishConfig) wamp.SessionFactory {
	return func(cc wamp.ComponentConfig) wamp.Session {
		opts := []wamp.SessionOption{wamp.WithJoinHandler(onJoin(pub))}
		if pub.Topic != "" {
			opts = append(opts, wamp.WithRoles(map[string]any{"publisher": map[string]any{}}))
		}
		return wamp.NewApplicationSession(cc, opts...)
	}
}

// onJoin logs the roles the router offered and starts publishing when a topic
// is configured.
func onJoin(pub config.PublishConfig) wamp.JoinHandler {
	return func(ctx context.Context, s *wamp.ApplicationSession) error {
		id, _ := s.SessionID()
		roles, _ := s.Details()["roles"].(map[string]any)
		offered := make([]string, 0, len(roles))
		for name := range roles {
			offered = append(offered, name)
		}
		sort.Strings(offered)
		log.Info().
			Uint64("session_id", id).
			Strs("router_roles", offered).
			Msg("wampctl.run joined")
		if pub.Topic == "" {
			return nil
		}
		return publishLoop(pub)(ctx, s)
	}
}

// publishLoop emits a sequence number on pub.Topic every pub.Interval while
// the session stays joined.
func publishLoop(pub config.PublishConfig) wamp.JoinHandler {
	return func(ctx context.Context, s *wamp.ApplicationSession) error {
		ticker := time.NewTicker(pub.Interval)
		defer ticker.Stop()
		var seq uint64
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				seq++
				if err := s.Publish(pub.Topic, []any{seq}, nil); err != nil {
					if errors.Is(err, wamp.ErrNotJoined) {
						return nil
					}
					return err
				}
			}
		}
	}
}
