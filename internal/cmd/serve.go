package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/panelsim/panelsim/internal/appid"
	errwrap "github.com/panelsim/panelsim/internal/errors"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/server"
	"github.com/panelsim/panelsim/internal/server/handlers"
	servermw "github.com/panelsim/panelsim/internal/server/middleware"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Reload the respondent roster

Bulk questions stream over Server-Sent Events at POST /api/bulk-question.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()
		cfg := loadConfig()

		observability.InitServerLogger(observability.ServerLogOptions{
			Service:     identity.BinaryName,
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Environment: cfg.Logging.Environment,
			Namespace:   namespace,
			Fields: map[string]any{
				"llm_provider": cfg.LLM.Provider,
				"rpm_limit":    cfg.Quota.RPMLimit,
			},
		})
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(metricsNamespace(identity.BinaryName, namespace), cfg.Metrics.Port); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := buildRuntime(ctx, cfg, runtimeOptions{})
		if err != nil {
			logger.Error("Failed to build runtime", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "runtime initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("respondents", rt.roster.Len()),
			zap.Int("rpm_limit", cfg.Quota.RPMLimit),
			zap.Int("effective_concurrency", rt.tracker.EffectiveConcurrency(cfg.Dispatch.Concurrency)))

		hm := handlers.NewHealthManager(versionInfo.Version)
		registerHealthChecks(hm, rt)
		handlers.SetAppIdentity(identity)
		handlers.SetGenerationInfo(&handlers.GenerationInfo{
			Provider:             cfg.LLM.Provider,
			Model:                cfg.LLM.Model,
			RPMLimit:             rt.tracker.RPMLimit(),
			RPDLimit:             rt.tracker.RPDLimit(),
			RequestedConcurrency: cfg.Dispatch.Concurrency,
			EffectiveConcurrency: rt.tracker.EffectiveConcurrency(cfg.Dispatch.Concurrency),
		})

		var limiter *servermw.ClientLimiter
		if cfg.Throttle.Enabled {
			limiter = servermw.NewClientLimiter(cfg.Throttle.RPS, cfg.Throttle.Burst)
			limiter.StartJanitor(ctx, time.Minute)
		}

		srv := server.New(server.Options{
			Server:         cfg.Server,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			BulkLimiter:    limiter,
			Health:         hm,
			AdminToken:     os.Getenv(appid.EnvPrefix(identity) + "ADMIN_TOKEN"),
			API: &handlers.API{
				Survey:    rt.survey,
				Directory: rt.roster,
				Archive:   archiveOrNil(rt),
				Stats:     rt.stats,
			},
		})

		if cfg.Roster.Watch {
			err := rt.roster.Watch(ctx, func(err error) {
				if err != nil {
					logger.Warn("Roster reload failed, keeping previous roster", zap.Error(err))
					return
				}
				logger.Info("Roster reloaded", zap.Int("respondents", rt.roster.Len()))
			})
			if err != nil {
				logger.Warn("Roster file watch disabled", zap.Error(err))
			}
		}

		// Shutdown handlers run LIFO: last registered, first executed.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			rt.Close()
			if err := observability.ShutdownMetrics(); err != nil {
				logger.Warn("Metrics exporter did not stop cleanly", zap.Error(err))
			}
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			cancel()
			shutdownCtx, stop := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading roster", zap.String("path", cfg.Roster.Path))
			if err := rt.roster.Reload(); err != nil {
				logger.Error("Roster reload failed", zap.Error(err))
				return errwrap.WrapInternal(ctx, err, "roster reload failed")
			}
			logger.Info("Roster reloaded", zap.Int("respondents", rt.roster.Len()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...",
				zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}
		return nil
	},
}

// archiveOrNil avoids handing the API a typed nil interface.
func archiveOrNil(rt *runtime) handlers.BatchArchive {
	if rt.archive == nil {
		return nil
	}
	return rt.archive
}

func registerHealthChecks(hm *handlers.HealthManager, rt *runtime) {
	if rt.cfg.Metrics.Enabled {
		hm.RegisterChecker("telemetry", handlers.CheckFunc(func(context.Context) error {
			if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
				return fmt.Errorf("%w: telemetry not initialized", handlers.ErrDegraded)
			}
			return nil
		}))
	}
	hm.RegisterChecker("roster", handlers.CheckFunc(func(context.Context) error {
		if rt.roster.Len() == 0 {
			return fmt.Errorf("roster %s is empty", rt.cfg.Roster.Path)
		}
		return nil
	}))
	hm.RegisterChecker("quota", handlers.CheckFunc(func(context.Context) error {
		status := rt.tracker.Status()
		if status.RequestsRemainingToday == 0 {
			return fmt.Errorf("%w: daily quota of %d spent", handlers.ErrDegraded, status.RPDLimit)
		}
		return nil
	}))
	if rt.archive != nil {
		hm.RegisterChecker("archive", handlers.CheckFunc(func(ctx context.Context) error {
			if err := rt.archive.DB.PingContext(ctx); err != nil {
				return fmt.Errorf("%w: %v", handlers.ErrDegraded, err)
			}
			return nil
		}))
	}
	if rt.redis != nil {
		hm.RegisterChecker("stats_redis", handlers.CheckFunc(func(ctx context.Context) error {
			if err := rt.redis.Ping(ctx); err != nil {
				return fmt.Errorf("%w: %v", handlers.ErrDegraded, err)
			}
			return nil
		}))
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8000, "server port")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

// metricsNamespace prefixes exported metric names, falling back to the
// binary name when the identity sets no telemetry namespace.
func metricsNamespace(binary, namespace string) string {
	if namespace != "" {
		return namespace
	}
	return binary
}
