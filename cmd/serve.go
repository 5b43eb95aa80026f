package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lexleads/internal/api"
	"github.com/sells-group/lexleads/internal/monitoring"
	"github.com/sells-group/lexleads/internal/usage"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for the browser front-end",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initApp(ctx, "serve", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := env.Collector()
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.NewServer(ctx, env.Orch, serverOptions(env, collector)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if env.Orch.Cancel() {
				zap.L().Info("cancelled in-flight run")
			}
			return eris.Wrap(srv.Shutdown(sctx), "server shutdown")
		})

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// serverOptions maps config and the app environment onto API options.
func serverOptions(env *appEnv, collector *monitoring.Collector) api.Options {
	opts := api.Options{
		Stats:          collector,
		Checks:         map[string]api.Pinger{},
		Export:         cfg.Export,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if env.Store != nil {
		opts.Runs = env.Store
		opts.Checks["store"] = env.Store
	}
	if env.Redis != nil {
		opts.Checks["redis"] = usage.NewRedisSink(env.Redis, cfg.Redis.Key)
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
		if opts.MetricsPath == "" {
			opts.MetricsPath = "/metrics"
		}
	}
	return opts
}
