package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbrisk/tbrisk/internal/config"
	"github.com/tbrisk/tbrisk/internal/domain/alert"
	"github.com/tbrisk/tbrisk/internal/domain/clinical"
	"github.com/tbrisk/tbrisk/internal/domain/education"
	"github.com/tbrisk/tbrisk/internal/domain/patient"
	"github.com/tbrisk/tbrisk/internal/domain/scheduling"
	"github.com/tbrisk/tbrisk/internal/domain/treatment"
	"github.com/tbrisk/tbrisk/internal/platform/db"
	"github.com/tbrisk/tbrisk/internal/platform/metrics"
	"github.com/tbrisk/tbrisk/internal/platform/middleware"
	"github.com/tbrisk/tbrisk/internal/platform/notification"
	"github.com/tbrisk/tbrisk/internal/platform/websocket"
	"github.com/tbrisk/tbrisk/internal/risk"
)

const (
	appName         = "tbrisk-server"
	version         = "0.1.0"
	sweepLeaseKey   = "tbrisk:sweep:lease"
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "TB clinical risk evaluation and alert server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, trigger workers and periodic sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep over every active patient and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			report, ran, err := a.sweeper.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "sweep lease is held by another replica, nothing to do")
				return nil
			}
			// Flush so the run's alerts reach the digest without waiting for a server.
			if a.digest != nil {
				if _, err := a.digest.Flush(ctx); err != nil {
					a.logger.Warn().Err(err).Msg("digest flush failed")
				}
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one patient and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("patient")
			materialize, _ := cmd.Flags().GetBool("materialize")

			patientID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--patient must be a UUID: %w", err)
			}

			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !materialize {
				ev, err := a.engine.Evaluate(ctx, patientID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), ev)
			}

			out, err := a.engine.EvaluatePatient(ctx, patientID, risk.SourceManual)
			if out != nil {
				if werr := writeJSON(cmd.OutOrStdout(), out); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().String("patient", "", "Patient ID to evaluate")
	cmd.Flags().Bool("materialize", false, "Persist and publish alerts for triggered codes")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, dir, err := migrationPool(ctx, dir)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := cmd.Context()
			pool, dir, err := migrationPool(ctx, dir)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationPool(ctx context.Context, dir string) (*pgxpool.Pool, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:             cfg.DatabaseURL,
		MaxConns:        2,
		ApplicationName: appName + "-migrate",
	})
	if err != nil {
		return nil, "", err
	}
	return pool, dir, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", appName).Logger()
}

// app holds the wired components shared by the serve, sweep and evaluate
// commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	registry *prometheus.Registry
	hub      *websocket.Hub
	alerts   *alert.Service
	engine   *risk.Engine
	sweeper  *risk.Sweeper
	digest   *notification.DigestBatcher
}

// bootstrap loads configuration, connects to PostgreSQL and, when
// REDIS_URL is set, Redis, then wires the application.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)

	pool, err := db.NewPool(ctx, db.PoolOptions{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: appName,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set: sweep runs without a lease and offline delivery is disabled")
	}

	a, err := newApp(cfg, logger, pool, rdb)
	if err != nil {
		pool.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}
	return a, nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// newApp wires every component. rdb may be nil.
func newApp(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, rdb *redis.Client) (*app, error) {
	if err := risk.ValidateRuleTable(); err != nil {
		return nil, err
	}
	matcher, err := buildMatcher(cfg)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	m := metrics.New(registry)
	hub := websocket.NewHub(logger)

	var (
		outbox notification.Outbox
		lease  risk.Lease
		digest *notification.DigestBatcher
	)
	if rdb != nil {
		ro := notification.NewRedisOutbox(rdb, cfg.NotifyOutboxStream, logger)
		outbox = ro
		lease = risk.NewRedisLease(rdb, sweepLeaseKey, cfg.SweepLeaseTTL)
		digest = notification.NewDigestBatcher(ro, notification.NewLogEmailSender(logger),
			notification.NewTemplateEngine(), cfg.NotifyDigestInterval, logger, m)
	}
	publisher := notification.NewFanout(hub, outbox, logger, m)

	patients := patient.NewRepoPG(pool)
	alertRepo := alert.NewRepoPG(pool)
	aggregator := risk.NewAggregator(risk.Repositories{
		Patients:     patients,
		Clinical:     clinical.NewRepoPG(pool),
		Treatments:   treatment.NewRepoPG(pool),
		Appointments: scheduling.NewRepoPG(pool),
		Education:    education.NewRepoPG(pool),
	}, cfg.StoreTimeout)

	materializer := risk.NewMaterializer(alertRepo, publisher, cfg.StoreTimeout, logger, m)
	engine := risk.NewEngine(aggregator, patients, risk.NewEvaluator(matcher), materializer, risk.Options{
		SweepWorkers:     cfg.SweepWorkers,
		SweepPageSize:    cfg.SweepPageSize,
		TriggerWorkers:   cfg.TriggerWorkers,
		TriggerQueueSize: cfg.TriggerQueueSize,
		StoreTimeout:     cfg.StoreTimeout,
	}, logger, m)

	return &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		redis:    rdb,
		registry: registry,
		hub:      hub,
		alerts:   alert.NewService(alertRepo),
		engine:   engine,
		sweeper:  risk.NewSweeper(engine, lease, cfg.SweepInterval, logger),
		digest:   digest,
	}, nil
}

// buildMatcher applies the configured term lists over the default
// vocabulary.
func buildMatcher(cfg *config.Config) (*risk.Matcher, error) {
	vocab := risk.DefaultVocabulary().Override(risk.Vocabulary{
		DeclineTerms:     cfg.RiskDeclineTerms,
		AbandonmentTerms: cfg.RiskAbandonmentTerms,
		FeverTerms:       cfg.RiskFeverTerms,
		EngagementTags:   cfg.RiskEngagementTags,
	})
	matcher, err := vocab.Compile()
	if err != nil {
		return nil, fmt.Errorf("risk vocabulary: %w", err)
	}
	return matcher, nil
}

// router builds the HTTP surface.
func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger, "/health", "/metrics"))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))
	// The manual sweep outlives a request; the WebSocket is long-lived.
	e.Use(middleware.RequestTimeout(requestTimeout, "/ws", "/api/v1/risk/sweeps"))

	checks := []db.Check{db.PoolCheck(a.pool)}
	if a.redis != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}})
	}
	e.GET("/health", db.HealthHandler(a.pool, checks...))
	e.GET("/metrics", metrics.Handler(a.registry))

	websocket.NewHandler(a.hub, a.cfg.CORSOrigins).RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	alert.NewHandler(a.alerts).RegisterRoutes(apiV1)
	risk.NewHandler(a.engine, a.sweeper).RegisterRoutes(apiV1)

	return e
}

// Close releases the connections. It does not stop running goroutines.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("redis close failed")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func runServer(ctx context.Context) error {
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// Trigger workers outlive ctx so queued evaluations drain on shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	a.engine.Start(workerCtx)

	e := a.router()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sweeper.Start(gctx)
		return nil
	})
	if a.digest != nil {
		g.Go(func() error {
			a.digest.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	a.engine.Stop()
	if a.digest != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if _, ferr := a.digest.Flush(flushCtx); ferr != nil {
			a.logger.Warn().Err(ferr).Msg("final digest flush failed")
		}
		cancel()
	}
	a.logger.Info().Msg("server stopped")
	return err
}
