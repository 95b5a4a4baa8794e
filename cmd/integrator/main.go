package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/integrator/internal/config"
	"github.com/ehr/integrator/internal/domain/catalog"
	"github.com/ehr/integrator/internal/domain/consent"
	"github.com/ehr/integrator/internal/domain/facility"
	"github.com/ehr/integrator/internal/domain/sharing"
	"github.com/ehr/integrator/internal/platform/auth"
	"github.com/ehr/integrator/internal/platform/cache"
	"github.com/ehr/integrator/internal/platform/db"
	"github.com/ehr/integrator/internal/platform/eventlog"
	"github.com/ehr/integrator/internal/platform/metrics"
	"github.com/ehr/integrator/internal/platform/middleware"
	"github.com/ehr/integrator/internal/platform/telemetry"
	"github.com/ehr/integrator/migrations"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "integrator",
		Short:        "Multi-facility patient data integrator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the integrator API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

// deps are the connections the server is built on. Nil fields are
// absent; the memory backend needs none of them.
type deps struct {
	pool       *pgxpool.Pool
	redis      redis.UniversalClient
	registerer prometheus.Registerer
	sinks      []eventlog.Publisher
}

type server struct {
	echo       *echo.Echo
	facilities *facility.Service
	consents   *consent.Service
	records    *catalog.Service
	sharing    *sharing.Service
	events     *eventlog.Background
}

func openStores(cfg *config.Config, d deps, m *metrics.Metrics) (facility.Store, consent.Store, catalog.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return facility.NewMemoryStore(), consent.NewMemoryStore(),
			catalog.NewInstrumented(catalog.NewMemoryStore(), config.BackendMemory, m), nil
	case config.BackendPostgres:
		if d.pool == nil {
			return nil, nil, nil, fmt.Errorf("%s backend needs a database pool", cfg.StoreBackend)
		}
		return facility.NewStorePG(d.pool), consent.NewStorePG(d.pool),
			catalog.NewInstrumented(catalog.NewStorePG(d.pool), config.BackendPostgres, m), nil
	case config.BackendRedis:
		if d.pool == nil || d.redis == nil {
			return nil, nil, nil, fmt.Errorf("%s backend needs a database pool and a redis client", cfg.StoreBackend)
		}
		return facility.NewStorePG(d.pool), consent.NewStorePG(d.pool),
			catalog.NewInstrumented(catalog.NewStoreRedis(d.redis, cfg.RedisKeyPrefix), config.BackendRedis, m), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// newServer wires services, middleware and routes onto a fresh echo
// instance. It does not start listening.
func newServer(cfg *config.Config, logger zerolog.Logger, d deps) (*server, error) {
	m := metrics.New(d.registerer)

	facilityStore, consentStore, recordStore, err := openStores(cfg, d, m)
	if err != nil {
		return nil, err
	}

	// The log line is written inline; remote sinks are fed from a queue.
	pubs := eventlog.Multi{eventlog.NewLogPublisher(logger)}
	var remote eventlog.Multi
	if d.pool != nil {
		remote = append(remote, eventlog.NewPGPublisher(d.pool))
	}
	remote = append(remote, d.sinks...)
	var background *eventlog.Background
	if len(remote) > 0 {
		background = eventlog.NewBackground(remote, eventlog.DefaultBackgroundBuffer, logger)
		pubs = append(pubs, background)
	}
	recorder := eventlog.NewRecorder(pubs, "integrator", logger)

	scheme, err := facility.ParseScheme(cfg.CredentialScheme)
	if err != nil {
		return nil, err
	}

	facilitySvc := facility.NewService(facilityStore, logger)
	facilitySvc.SetScheme(scheme)
	facilitySvc.SetUpgradeOnLogin(cfg.UpgradeOnLogin)
	facilitySvc.SetMetrics(m)
	facilitySvc.SetRecorder(recorder)

	consentSvc := consent.NewService(consentStore, logger)
	consentSvc.SetMetrics(m)
	consentSvc.SetRecorder(recorder)

	catalogSvc := catalog.NewService(recordStore, logger)
	catalogSvc.SetMetrics(m)
	catalogSvc.SetRecorder(recorder)

	sharingSvc := sharing.NewService(consentSvc, catalogSvc, logger)
	sharingSvc.SetMetrics(m)
	sharingSvc.SetRecorder(recorder)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.BodyLimit("1M", "32M"))

	// Operational endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	var checks []db.Check
	if d.pool != nil {
		checks = append(checks, db.PoolCheck(d.pool))
	}
	if d.redis != nil {
		checks = append(checks, cache.Check(d.redis))
	}
	e.GET("/health/db", db.HealthHandler(checks...))
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	// Facility-authenticated API
	apiV1 := e.Group("/api/v1", auth.FacilityBasicAuth(facilitySvc.Authenticator()))
	facility.NewHandler(facilitySvc).RegisterRoutes(apiV1)
	consent.NewHandler(consentSvc).RegisterRoutes(apiV1)
	catalog.NewHandler(catalogSvc).RegisterRoutes(apiV1)
	sharing.NewHandler(sharingSvc).RegisterRoutes(apiV1)

	return &server{
		echo:       e,
		facilities: facilitySvc,
		consents:   consentSvc,
		records:    catalogSvc,
		sharing:    sharingSvc,
		events:     background,
	}, nil
}

// close drains queued events. Call it after the echo server has stopped.
func (s *server) close(ctx context.Context) error {
	if s.events == nil {
		return nil
	}
	return s.events.Close(ctx)
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		logger := newLogger(nil)
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	d := deps{registerer: prometheus.DefaultRegisterer}

	// Database
	if cfg.StoreBackend != config.BackendMemory {
		pool, err := openPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		d.pool = pool
		logger.Info().Msg("connected to database")
	}

	// Redis
	if cfg.StoreBackend == config.BackendRedis {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		d.redis = client
		logger.Info().Msg("connected to redis")
	}

	// Kafka event sink
	if cfg.KafkaEnabled() {
		kp, err := eventlog.NewKafkaPublisher(eventlog.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaEventTopic,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure kafka publisher")
		}
		defer kp.Close()
		d.sinks = append(d.sinks, kp)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaEventTopic).Msg("publishing events to kafka")
	}

	// Tracing
	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "integrator",
		ServiceVersion: version,
		Environment:    cfg.Env,
		SampleRate:     cfg.TraceSampleRate,
	}, telemetry.NewLogExporter(logger))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	srv, err := newServer(cfg, logger, d)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	e := srv.echo

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("backend", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	if err := srv.close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("event queue did not drain")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// ---------------------------------------------------------------------------
// migrate
// ---------------------------------------------------------------------------

// migrationSource returns the directory given by flag or MIGRATIONS_DIR,
// falling back to the migrations compiled into the binary.
func migrationSource(cmd *cobra.Command, cfg *config.Config) fs.FS {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(cmd, cfg))
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationSource(cmd, cfg))
			statuses, err := migrator.Status(ctx)
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
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// ---------------------------------------------------------------------------
// facility
// ---------------------------------------------------------------------------

// facilityServiceFunc opens a facility service for a CLI command. The
// returned func releases whatever the service holds.
type facilityServiceFunc func(ctx context.Context) (*facility.Service, func(), error)

func pgFacilityService(ctx context.Context) (*facility.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	scheme, err := facility.ParseScheme(cfg.CredentialScheme)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger := newLogger(cfg)
	svc := facility.NewService(facility.NewStorePG(pool), logger)
	svc.SetScheme(scheme)
	svc.SetRecorder(eventlog.NewRecorder(eventlog.NewPGPublisher(pool), "integrator-cli", logger))
	return svc, pool.Close, nil
}

func facilityCmd() *cobra.Command {
	return newFacilityCmd(pgFacilityService)
}

func newFacilityCmd(open facilityServiceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage integrator facilities",
	}

	// withService runs fn against a freshly opened facility service.
	withService := func(cmd *cobra.Command, fn func(ctx context.Context, svc *facility.Service) error) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		svc, closeFn, err := open(ctx)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(ctx, svc)
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a facility",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			password, _ := cmd.Flags().GetString("password")
			if name == "" || password == "" {
				return fmt.Errorf("--name and --password are required")
			}
			return withService(cmd, func(ctx context.Context, svc *facility.Service) error {
				f, err := svc.Register(ctx, name, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered facility %d (%s)\n", f.ID, f.Name)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Facility name")
	createCmd.Flags().String("password", "", "Facility password")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered facilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *facility.Service) error {
				all, err := svc.List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-6s %-32s %-9s %-8s %s\n", "ID", "NAME", "STATE", "SCHEME", "LAST LOGIN")
				for _, f := range all {
					state := "enabled"
					if !f.IsEnabled() {
						state = "disabled"
					}
					lastLogin := ""
					if f.LastLogin != nil {
						lastLogin = f.LastLogin.Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%-6d %-32s %-9s %-8s %s\n", f.ID, f.Name, state, f.CredentialScheme(), lastLogin)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(facilityIDCmd("disable", "Disable a facility", withService,
		func(ctx context.Context, cmd *cobra.Command, svc *facility.Service, id int) error {
			if err := svc.Disable(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Facility %d disabled\n", id)
			return nil
		}))

	cmd.AddCommand(facilityIDCmd("enable", "Enable a facility", withService,
		func(ctx context.Context, cmd *cobra.Command, svc *facility.Service, id int) error {
			if err := svc.Enable(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Facility %d enabled\n", id)
			return nil
		}))

	cmd.AddCommand(facilityIDCmd("credential", "Print the facility's transport credential", withService,
		func(ctx context.Context, cmd *cobra.Command, svc *facility.Service, id int) error {
			cred, err := svc.TransportCredential(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cred)
			return nil
		}))

	setPwCmd := facilityIDCmd("set-password", "Replace a facility's password", withService,
		func(ctx context.Context, cmd *cobra.Command, svc *facility.Service, id int) error {
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				return fmt.Errorf("--password is required")
			}
			if err := svc.SetCredential(ctx, id, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password updated for facility %d\n", id)
			return nil
		})
	setPwCmd.Flags().String("password", "", "New facility password")
	cmd.AddCommand(setPwCmd)

	return cmd
}

func facilityIDCmd(
	use, short string,
	withService func(*cobra.Command, func(context.Context, *facility.Service) error) error,
	run func(ctx context.Context, cmd *cobra.Command, svc *facility.Service, id int) error,
) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetInt("id")
			if id <= 0 {
				return fmt.Errorf("--id must be a positive facility id")
			}
			return withService(cmd, func(ctx context.Context, svc *facility.Service) error {
				return run(ctx, cmd, svc, id)
			})
		},
	}
	c.Flags().Int("id", 0, "Facility id")
	return c
}
