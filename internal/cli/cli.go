// Package cli implements the xhub command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xhub"
	_ "github.com/trickstertwo/xhub/adapter/gorillaws"
	_ "github.com/trickstertwo/xhub/adapter/memory"
	"github.com/trickstertwo/xhub/adapter/promobs"
	"github.com/trickstertwo/xhub/adapter/redisdir"
	"github.com/trickstertwo/xhub/internal/config"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// Execute runs the Cobra-based CLI entry point.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "xhub",
		Short: "Cross-process event hub",
		Long:  "xhub runs the central hub that routes named events between services, or a peer connected to it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	cmd.PersistentFlags().String("transport", "websocket", "transport name")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug or info")
	_ = v.BindPFlag("transport.name", cmd.PersistentFlags().Lookup("transport"))
	_ = v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	cmd.AddCommand(newHubCmd(v))
	cmd.AddCommand(newPeerCmd(v))
	cmd.AddCommand(newSendCmd(v))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the xhub version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "xhub %s\n", Version)
		},
	}
}

// enableOnFlag turns "<prefix>.enabled" on and stores the flag value under "<prefix>.<key>"
// when an address flag is given on the command line.
func enableOnFlag(cmd *cobra.Command, v *viper.Viper, flag, prefix, key string) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	val, _ := cmd.Flags().GetString(flag)
	v.Set(prefix+".enabled", true)
	v.Set(prefix+"."+key, val)
}

func load(cmd *cobra.Command, v *viper.Viper) (*config.Config, *xlog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log), nil
}

// newLogger installs the zerolog backend. "info" keeps the backend's default threshold.
func newLogger(c config.LogConfig) *xlog.Logger {
	zc := zerolog.Config{
		Console:           c.Console,
		ConsoleTimeFormat: time.RFC3339,
	}
	if strings.EqualFold(c.Level, "debug") {
		zc.MinLevel = xlog.LevelDebug
	}
	return zerolog.Use(zc).With(xlog.Str("app", "xhub"))
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func builder(cfg *config.Config, logger *xlog.Logger) *xhub.Builder {
	return xhub.NewBuilder().
		WithTransport(cfg.Transport.Name, cfg.Transport.Options).
		WithLogger(logger).
		WithObserverPool(cfg.Observers.Workers, cfg.Observers.BufferSize)
}

type healthSource interface {
	Health(ctx context.Context) xhub.HealthStatus
	promobs.MetricsSource
}

// serveMetrics exposes /metrics and /health until ctx is done.
func serveMetrics(ctx context.Context, addr string, obs *promobs.Observer, src healthSource, logger *xlog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", obs.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h := src.Health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func newHubCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			enableOnFlag(cmd, v, "redis-addr", "hub.redis", "addr")
			enableOnFlag(cmd, v, "metrics-addr", "metrics", "listen_addr")
			cfg, logger, err := load(cmd, v)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			b := builder(cfg, logger).
				WithName(cfg.Hub.Name).
				WithServices(cfg.Hub.Services...)

			if cfg.Hub.Redis.Enabled {
				dir, err := redisdir.New(redisdir.Config{
					Addr:     cfg.Hub.Redis.Addr,
					Username: cfg.Hub.Redis.Username,
					Password: cfg.Hub.Redis.Password,
					DB:       cfg.Hub.Redis.DB,
					Key:      cfg.Hub.Redis.Key,
				})
				if err != nil {
					return fmt.Errorf("redis directory: %w", err)
				}
				defer dir.Close()
				b.WithDirectory(dir)
			}

			var obs *promobs.Observer
			if cfg.Metrics.Enabled {
				obs = promobs.New("xhub")
				b.WithObserver(obs)
			}

			hub, err := b.BuildHub()
			if err != nil {
				return err
			}
			if obs != nil {
				if err := obs.Track(hub); err != nil {
					return err
				}
				serveMetrics(ctx, cfg.Metrics.ListenAddr, obs, hub, logger)
			}

			if err := hub.Run(ctx, cfg.Hub.Port); err != nil {
				return err
			}
			<-ctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			return hub.Stop(stopCtx)
		},
	}
	cmd.Flags().IntP("port", "p", 8080, "listen port")
	cmd.Flags().String("name", xhub.DefaultHubName, "hub service name")
	cmd.Flags().StringSlice("services", nil, "services allowed to connect")
	cmd.Flags().String("redis-addr", "", "keep registered services in redis at this address")
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /health on this address")
	_ = v.BindPFlag("hub.port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("hub.name", cmd.Flags().Lookup("name"))
	_ = v.BindPFlag("hub.services", cmd.Flags().Lookup("services"))
	return cmd
}
