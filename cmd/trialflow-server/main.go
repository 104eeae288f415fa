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
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/trialflow/trialflow/internal/config"
	"github.com/trialflow/trialflow/internal/domain/burden"
	"github.com/trialflow/trialflow/internal/domain/patient"
	"github.com/trialflow/trialflow/internal/domain/scheduling"
	"github.com/trialflow/trialflow/internal/platform/auth"
	"github.com/trialflow/trialflow/internal/platform/db"
	"github.com/trialflow/trialflow/internal/platform/middleware"
	"github.com/trialflow/trialflow/internal/platform/notification"
	"github.com/trialflow/trialflow/internal/platform/reporting"
	"github.com/trialflow/trialflow/internal/platform/telemetry"
)

const (
	version      = "0.1.0"
	maxBodyBytes = 1 << 20
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trialflow-server",
		Short: "Clinical trial scheduling and patient burden API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(scoreCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a site schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if site == "" {
				site = cfg.DefaultSite
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(site)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(out, "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("site", "", "Trial site whose schema is migrated (defaults to DEFAULT_SITE)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status of a site schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if site == "" {
				site = cfg.DefaultSite
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			schema := db.SchemaName(site)
			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("site", "", "Trial site whose schema is inspected (defaults to DEFAULT_SITE)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage trial sites",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a trial site schema and apply all migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Creating site schema: %s\n", db.SchemaName(name))
			if err := db.CreateSiteSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Fprintln(out, "Site created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Site identifier (letters, digits and underscores)")

	cmd.AddCommand(createCmd)
	return cmd
}

// scoreCmd scores a schedule offline. It needs no database or config.
func scoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Print the burden score of a visit schedule as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			sample, _ := cmd.Flags().GetBool("sample")
			if file == "" && !sample {
				return fmt.Errorf("either --file or --sample is required")
			}

			svc := burden.NewService(nil, burden.DefaultVisitDefaults(), newLogger("", cmd.ErrOrStderr()))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			var score burden.PatientScore
			if sample {
				score = svc.Sample(ctx)
			} else {
				visits, err := loadVisits(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				if score, err = svc.Calculate(ctx, visits); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(score)
		},
	}
	cmd.Flags().String("file", "", `JSON file with {"visits": [...]} or a bare visit array; "-" reads stdin`)
	cmd.Flags().Bool("sample", false, "Score the built-in four-visit sample schedule")
	return cmd
}

func loadVisits(path string, stdin io.Reader) ([]burden.VisitInput, error) {
	if path == "-" {
		return readVisits(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open visits file: %w", err)
	}
	defer f.Close()
	return readVisits(f)
}

// readVisits accepts the calculate request body or a bare array of visits.
func readVisits(r io.Reader) ([]burden.VisitInput, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read visits: %w", err)
	}
	var body struct {
		Visits []burden.VisitInput `json:"visits"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		return body.Visits, nil
	}
	var visits []burden.VisitInput
	if err := json.Unmarshal(raw, &visits); err != nil {
		return nil, fmt.Errorf("parse visits: %w", err)
	}
	return visits, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"), os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logConfigWarnings(logger, cfg)

	signingKey, err := cfg.SigningKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid signing key")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	checks := []db.Check{db.PoolCheck(pool)}

	// Redis (optional)
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		checks = append(checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info().Msg("burden score cache enabled")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(reg)

	// Notifications
	sender := notification.NewEmailSender(notification.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.EmailFrom,
		FromName:  cfg.EmailFromName,
	}, logger)
	notifier := notification.NewNotifier(sender, metrics, logger)

	// Domain services
	patientSvc := patient.NewService(patient.NewRepoPG(pool))

	var schedSvc *scheduling.Service
	burdenOpts := []burden.Option{
		burden.WithObserver(metrics),
		burden.WithAlertSink(&burdenAlerts{notifier: notifier, patients: patientSvc, to: cfg.BurdenAlertEmail}),
	}
	if rdb != nil {
		burdenOpts = append(burdenOpts, burden.WithCache(burden.NewRedisCache(rdb, cfg.BurdenCacheTTL)))
	}
	burdenSvc := burden.NewService(
		&visitSource{patients: patientSvc, appointments: func(ctx context.Context, id uuid.UUID) ([]*scheduling.Appointment, error) {
			return schedSvc.ListPatientAppointments(ctx, id)
		}},
		burden.VisitDefaults{TravelMinutes: cfg.DefaultTravelMinutes, WindowDays: cfg.DefaultWindowDays},
		logger,
		burdenOpts...,
	)

	schedSvc = scheduling.NewService(
		scheduling.NewProcedureRepoPG(pool),
		scheduling.NewTimeWindowRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		logger,
		scheduling.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		}),
		scheduling.WithChangeHook(func(ctx context.Context, patientID uuid.UUID) {
			if err := burdenSvc.InvalidatePatient(ctx, patientID); err != nil {
				logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("burden cache invalidation failed")
			}
		}),
		scheduling.WithWindowNotifier(newWindowNotifier(patientSvc, notifier, cfg.AppURL, logger)),
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.SiteHeader},
	}))
	e.Use(metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/ready", db.ReadinessHandler(checks...))
	e.GET("/metrics", telemetry.Handler(reg))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: signingKey,
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1", authMW, db.SiteMiddleware(pool, cfg.DefaultSite), middleware.RateLimit(rateLimitCfg))

	burden.NewHandler(burdenSvc).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(schedSvc).RegisterRoutes(apiV1)
	reporting.NewHandler(pool).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func logConfigWarnings(logger zerolog.Logger, cfg *config.Config) {
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a token are treated as admin")
	}
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, burden scores are not cached")
	}
	if cfg.SendGridAPIKey == "" {
		logger.Warn().Msg("SENDGRID_API_KEY not set, emails are logged instead of sent")
	}
	if cfg.BurdenAlertEmail == "" {
		logger.Warn().Msg("BURDEN_ALERT_EMAIL not set, high burden alerts are dropped")
	}
}
