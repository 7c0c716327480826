package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/npm-registry/npm-registry/internal/api"
	"github.com/npm-registry/npm-registry/internal/config"
	"github.com/npm-registry/npm-registry/internal/db"
	"github.com/npm-registry/npm-registry/internal/db/repositories"
	"github.com/npm-registry/npm-registry/internal/notify"
	"github.com/npm-registry/npm-registry/internal/safego"
	"github.com/npm-registry/npm-registry/internal/services"
	"github.com/npm-registry/npm-registry/internal/telemetry"
)

const (
	version = "0.1.0"
)

const usage = `Available commands:
  serve                      run the operational listener (default)
  migrate <up|down|force N>  manage the database schema
  search <term>              print name and keyword matches as JSON
  maintainers <name>         print the authorization view of a module
  changes [--feed] <RFC3339> print public module names changed since then;
                             --feed reads the Redis change index instead
  watch                      stream change feed events as JSON lines
  version                    print the version`

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("npm registry v%s\n", version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down|force N>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2:])
	case "search", "maintainers", "changes":
		args := os.Args[2:]
		if command == "changes" && len(args) > 0 && args[0] == "--feed" {
			command, args = "changes-feed", args[1:]
		}
		if len(args) < 1 {
			return fmt.Errorf("usage: %s %s <argument>", os.Args[0], os.Args[1])
		}
		return runQuery(cfg, command, args[0])
	case "watch":
		return watch(cfg)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

// registry is the wired metadata core.
type registry struct {
	packages    *services.PackageService
	maintainers *services.MaintainerService
	search      *services.SearchService
	redis       *redis.Client
	feed        *notify.RedisNotifier
}

func (r *registry) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

// newRegistry builds the repositories and the services over database. The
// change feed is only connected when redis.enabled is set.
func newRegistry(ctx context.Context, cfg *config.Config, database *sqlx.DB) (*registry, error) {
	stores := services.Stores{
		Modules:            repositories.NewModuleRepository(database),
		Tags:               repositories.NewTagRepository(database),
		Dependencies:       repositories.NewDependencyRepository(database),
		Keywords:           repositories.NewKeywordRepository(database),
		PrivateMaintainers: repositories.NewPrivateMaintainerRepository(database),
		PublicMaintainers:  repositories.NewPublicMaintainerRepository(database),
		Stars:              repositories.NewStarRepository(database),
		Unpublished:        repositories.NewUnpublishedRepository(database),
		Users:              repositories.NewUserRepository(database),
	}
	opts := services.Options{
		MaxConcurrency: cfg.Registry.MaxConcurrency,
		SearchLimit:    cfg.Registry.SearchLimit,
	}
	classifier := services.NewScopeClassifier(cfg.Registry.Scopes, cfg.Registry.PrivatePackages)

	reg := &registry{}
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.Redis.Enabled {
		client, err := notify.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to change feed: %w", err)
		}
		reg.redis = client
		reg.feed = notify.NewRedisNotifier(client, cfg.Redis.Channel)
		notifier = reg.feed
		slog.Info("change feed connected", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}

	reg.packages = services.NewPackageService(stores, classifier, notifier, opts)
	reg.maintainers = services.NewMaintainerService(stores, classifier, reg.packages)
	reg.search = services.NewSearchService(stores, opts)
	return reg, nil
}

func connect(cfg *config.Config) (*sqlx.DB, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port, "name", cfg.Database.Name)
	return db.Wrap(database), nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		slog.Info("running database migrations")
		if err := db.RunMigrations(database.DB, "up"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema version", "version", v, "dirty", dirty)
	}

	telemetry.StartDBStatsCollector(ctx, database.DB)

	reg, err := newRegistry(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer reg.Close()
	slog.Info("registry ready",
		"scopes", cfg.Registry.Scopes,
		"private_packages", len(cfg.Registry.PrivatePackages),
		"search_limit", cfg.Registry.SearchLimit)

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Telemetry.Metrics.GetAddress(),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		safego.Go("metrics-server", func() {
			slog.Info("starting Prometheus metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	var checks []api.ReadinessCheck
	if reg.redis != nil {
		checks = append(checks, api.ReadinessCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return reg.redis.Ping(ctx).Err() },
		})
	}

	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           api.NewRouter(database.DB, checks...),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, args []string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	switch direction := args[0]; direction {
	case "up", "down":
		if err := db.RunMigrations(database.DB, direction); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[1], err)
		}
		if err := db.ForceMigrationVersion(database.DB, v); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
	default:
		return fmt.Errorf("invalid migration direction: %s (must be up, down or force)", direction)
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migrations completed", "version", v, "dirty", dirty)
	return nil
}

// runQuery answers one read-only question against the metadata core and
// prints the answer as indented JSON.
func runQuery(cfg *config.Config, command, arg string) error {
	ctx := context.Background()

	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	reg, err := newRegistry(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer reg.Close()

	var out interface{}
	switch command {
	case "search":
		out, err = reg.search.Search(ctx, arg, services.SearchOptions{})
	case "maintainers":
		out, err = maintainerView(ctx, reg, arg)
	case "changes", "changes-feed":
		var since time.Time
		if since, err = time.Parse(time.RFC3339, arg); err != nil {
			return fmt.Errorf("invalid time %q: %w", arg, err)
		}
		out, err = changedNames(ctx, reg, since, command == "changes-feed")
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// changedNames lists public names changed after since, from the tag table or,
// with fromFeed, from the change feed index.
func changedNames(ctx context.Context, reg *registry, since time.Time, fromFeed bool) ([]string, error) {
	if !fromFeed {
		return reg.packages.ListPublicModuleNamesSince(ctx, since)
	}
	if reg.feed == nil {
		return nil, errors.New("change feed is not configured (set redis.enabled)")
	}
	return reg.feed.ChangedSince(ctx, since)
}

// watch prints change feed events until interrupted.
func watch(cfg *config.Config) error {
	if !cfg.Redis.Enabled {
		return errors.New("change feed is not configured (set redis.enabled)")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := notify.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to change feed: %w", err)
	}
	defer client.Close()

	events, err := notify.NewRedisNotifier(client, cfg.Redis.Channel).Subscribe(ctx)
	if err != nil {
		return err
	}
	return printEvents(os.Stdout, events)
}

func printEvents(w io.Writer, events <-chan notify.Event) error {
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

type maintainerReport struct {
	Name        string   `json:"name"`
	Maintainers []string `json:"maintainers"`
	Latest      string   `json:"latest,omitempty"`
	Mirrored    bool     `json:"mirrored"`
}

func maintainerView(ctx context.Context, reg *registry, name string) (*maintainerReport, error) {
	result, err := reg.maintainers.Authorize(ctx, name, "")
	if err != nil {
		return nil, err
	}
	report := &maintainerReport{Name: name, Maintainers: result.Maintainers}

	latest, err := reg.packages.GetLatestModule(ctx, name)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		report.Latest = latest.Version
		report.Mirrored = !latest.Package.PublishedHere()
	}
	return report, nil
}
