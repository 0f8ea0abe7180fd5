package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rshade/apicache/internal/config"
	"github.com/rshade/apicache/internal/logging"
	"github.com/rshade/apicache/internal/server"
	"github.com/rshade/apicache/internal/upstream"
)

func newServeCmd() *cobra.Command {
	var (
		addr         string
		upstreamBase string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache API and a caching proxy",
		Long: `Starts an HTTP server exposing cache statistics and administration under
/api/cache, Prometheus metrics on /metrics, and, when an upstream is
configured, a cache-aside proxy on /proxy/<path>. Expired entries are swept
in the background while the server runs.`,
		Example: `  apicache serve --addr :8080 --upstream https://api.example.com/v1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.GetGlobalConfig()
			if cmd.Flags().Changed("addr") {
				cfg.Server.Address = addr
			}
			if cmd.Flags().Changed("upstream") {
				cfg.Server.Upstream = upstreamBase
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().StringVar(&upstreamBase, "upstream", "", "base URL proxied under /proxy")
	return cmd
}

// runServer serves until ctx is cancelled, sweeping the cache meanwhile.
func runServer(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	session := openCache(cfg, logger, reg)
	defer session.Close()

	client, err := upstream.New(cfg.Server.Upstream,
		upstream.WithTimeout(cfg.Server.Timeout),
		upstream.WithLogger(logging.ComponentLogger(logger, "upstream")))
	if err != nil {
		return err
	}

	sweeper := session.cache.StartSweeper(ctx)
	defer session.cache.StopSweeper()
	logger.Info().
		Str("backend", session.backend).
		Bool("sweeping", sweeper.Running()).
		Dur("sweep_interval", sweeper.Interval()).
		Str("upstream", cfg.Server.Upstream).
		Msg("starting cache server")

	srv := server.New(session.cache,
		server.WithUpstream(client),
		server.WithGatherer(reg),
		server.WithLogger(logging.ComponentLogger(logger, "server")))
	return srv.Run(ctx, cfg.Server.Address)
}
