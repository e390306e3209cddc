package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kuuji/turngate/internal/config"
	"github.com/kuuji/turngate/internal/observer"
	"github.com/kuuji/turngate/processor"
	"github.com/kuuji/turngate/router"
	"github.com/kuuji/turngate/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the TURN server",
	Long: `Load the configuration, bind every configured interface, and relay
until interrupted. SIGINT/SIGTERM trigger a graceful shutdown: listeners
close, in-flight requests finish, and the session reaper stops.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(globalConfigPath)
	if err != nil {
		globalLogger.Error("config load failed", "error", fmt.Sprintf("%+v", err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := router.New(cfg.Realm, selectObserver(cfg), globalLogger)
	r.DefaultLifetime = cfg.DefaultLifetime.Duration()
	r.NonceTTL = cfg.NonceTTL.Duration()

	proc := processor.New(r, "turnd/"+version, globalLogger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.Run(ctx)
		return nil
	})

	for i, iface := range cfg.Interfaces {
		if err := startInterface(ctx, g, cfg, proc, r, i, iface); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	globalLogger.Info("turnd running", "realm", cfg.Realm, "interfaces", len(cfg.Interfaces))
	if err := g.Wait(); err != nil {
		globalLogger.Error("server stopped", "error", fmt.Sprintf("%+v", err))
		return err
	}
	globalLogger.Info("turnd stopped")
	return nil
}

// selectObserver picks the credential backend: REST when a shared secret is
// configured, otherwise the static in-memory map.
func selectObserver(cfg *config.Config) router.Observer {
	if cfg.Auth.SharedSecret != "" {
		return observer.NewREST(cfg.Auth.SharedSecret, globalLogger)
	}
	return observer.NewMemory(cfg.Auth.Users, globalLogger)
}

// startInterface binds one configured interface and adds its read loop(s) to
// the group. UDP interfaces spawn cfg.Workers listeners sharing the port via
// SO_REUSEPORT; TCP interfaces always get a single accept loop.
func startInterface(ctx context.Context, g *errgroup.Group, cfg *config.Config, proc *processor.Processor, r *router.Router, index int, iface config.InterfaceConfig) error {
	switch iface.Transport {
	case "udp":
		external, err := net.ResolveUDPAddr("udp", iface.External)
		if err != nil {
			return errors.Wrapf(err, "interfaces[%d]: resolving external %s", index, iface.External)
		}
		workers := cfg.Workers
		if workers < 1 {
			workers = 1
		}
		for w := 0; w < workers; w++ {
			conn, err := transport.ListenUDP(ctx, iface.Bind, workers > 1)
			if err != nil {
				return errors.Wrapf(err, "interfaces[%d]", index)
			}
			l := transport.NewUDPListener(conn, proc, index, external, globalLogger)
			g.Go(func() error { return l.Run(ctx) })
		}
		return nil
	case "tcp":
		external, err := net.ResolveTCPAddr("tcp", iface.External)
		if err != nil {
			return errors.Wrapf(err, "interfaces[%d]: resolving external %s", index, iface.External)
		}
		ln, err := transport.ListenTCP(ctx, iface.Bind)
		if err != nil {
			return errors.Wrapf(err, "interfaces[%d]", index)
		}
		l := transport.NewTCPListener(ln, proc, r, index, external, globalLogger)
		g.Go(func() error { return l.Run(ctx) })
		return nil
	default:
		return errors.Errorf("interfaces[%d]: unsupported transport %q", index, iface.Transport)
	}
}
