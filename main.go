package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/audit"
	"github.com/ekaya-inc/ekaya-press/pkg/config"
	"github.com/ekaya-inc/ekaya-press/pkg/database"
	"github.com/ekaya-inc/ekaya-press/pkg/handlers"
	"github.com/ekaya-inc/ekaya-press/pkg/logging"
	"github.com/ekaya-inc/ekaya-press/pkg/middleware"
	"github.com/ekaya-inc/ekaya-press/pkg/models"
	"github.com/ekaya-inc/ekaya-press/pkg/pagination"
	"github.com/ekaya-inc/ekaya-press/pkg/repositories"
	"github.com/ekaya-inc/ekaya-press/pkg/services"
	"github.com/ekaya-inc/ekaya-press/pkg/slug"
	"github.com/ekaya-inc/ekaya-press/pkg/taxonomy"
)

// Version is set at build time via ldflags
var Version = "dev"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ekaya-press",
	Short:        "Editorial lifecycle and discovery engine",
	SilenceUsage: true,
}

// app bundles what every command needs. Close must be deferred.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
}

func (rt *app) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
	_ = rt.logger.Sync()
}

func newApp(ctx context.Context, connect bool) (*app, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadFile(configPath, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.Bool("redis_enabled", cfg.Redis.Host != ""))

	rt := &app{cfg: cfg, logger: logger}
	if !connect {
		return rt, nil
	}

	rt.db, err = database.Connect(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return rt, nil
}

// newCategoryService wires the category service with its optional Redis cache.
// An unreachable Redis disables caching rather than failing startup.
func (rt *app) newCategoryService(ctx context.Context, auditService services.AuditService) services.CategoryService {
	redisClient, err := database.NewRedisClient(ctx, &rt.cfg.Redis)
	if err != nil {
		rt.logger.Warn("Category cache disabled", zap.Error(err))
	}

	var cache services.DescendantCache
	if redisClient != nil {
		cache = services.NewDescendantCache(redisClient, rt.cfg.Redis.DescendantsTTL, rt.logger)
	}

	e := rt.cfg.Editorial
	return services.NewCategoryService(&services.CategoryServiceDeps{
		DB:       rt.db,
		Repo:     repositories.NewCategoryRepository(rt.db),
		Audit:    auditService,
		Cache:    cache,
		Slugs:    slug.NewGenerator(e.SlugMaxLength, e.SlugMaxAttempts),
		MaxDepth: e.MaxCategoryDepth,
		Logger:   rt.logger,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP read API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()
		logger := rt.logger

		if err := database.MigrateURL(rt.cfg.Database.ConnectionString(), logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		auditService := services.NewAuditService(repositories.NewAuditRepository(rt.db), logger)
		categoryService := rt.newCategoryService(ctx, auditService)
		e := rt.cfg.Editorial
		feedService := services.NewFeedService(&services.FeedServiceDeps{
			Feeds:           repositories.NewFeedRepository(rt.db),
			Categories:      categoryService,
			Limits:          pagination.Limits{Default: e.FeedDefaultLimit, Max: e.FeedMaxLimit},
			MaxSearchLength: e.MaxSearchLength,
			Logger:          logger,
		})

		mux := http.NewServeMux()
		handlers.NewHealthHandler(rt.cfg, rt.db, logger).RegisterRoutes(mux)
		handlers.NewFeedHandler(feedService, audit.NewSecurityAuditor(logger), logger).RegisterRoutes(mux)
		handlers.NewCategoryHandler(categoryService, logger).RegisterRoutes(mux)

		var handler http.Handler = mux
		handler = middleware.RequestLogger(logger)(handler)
		handler = middleware.Recoverer(logger)(handler)

		server := &http.Server{
			Addr:              rt.cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Starting ekaya-press",
				zap.String("addr", server.Addr),
				zap.String("version", rt.cfg.Version))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()
		return database.MigrateURL(rt.cfg.Database.ConnectionString(), rt.logger)
	},
}

var (
	seedFile  string
	seedActor string
)

var seedCategoriesCmd = &cobra.Command{
	Use:   "seed-categories",
	Short: "Create the categories of a YAML taxonomy file",
	Long: `Creates every category in the file that does not exist yet.
Existing categories are matched by name under the same parent, so the
command can be re-run after editing the file. Changes are audited as
the --actor user, who is registered if unknown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, err := uuid.Parse(seedActor)
		if err != nil {
			return fmt.Errorf("--actor must be a UUID: %w", err)
		}
		file, err := taxonomy.ParseFile(seedFile)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		rt, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := database.MigrateURL(rt.cfg.Database.ConnectionString(), rt.logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		auditService := services.NewAuditService(repositories.NewAuditRepository(rt.db), rt.logger)
		userService := services.NewUserService(rt.db, repositories.NewUserRepository(rt.db), auditService, rt.logger)
		if _, err := userService.EnsureUser(ctx, actorID, "taxonomy seed"); err != nil {
			return fmt.Errorf("register actor: %w", err)
		}

		categoryService := rt.newCategoryService(ctx, auditService)

		auth := models.AuthContext{UserID: actorID, Roles: []models.Role{models.RoleAdmin}}
		result, err := taxonomy.NewSeeder(categoryService, rt.logger).Seed(ctx, auth, file)
		if err != nil {
			return err
		}

		fmt.Printf("Categories created: %d, already present: %d\n", result.Created, result.Existing)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	seedCategoriesCmd.Flags().StringVar(&seedFile, "file", "", "YAML taxonomy file")
	seedCategoriesCmd.Flags().StringVar(&seedActor, "actor", "", "UUID of the admin recorded in the audit log")
	_ = seedCategoriesCmd.MarkFlagRequired("file")
	_ = seedCategoriesCmd.MarkFlagRequired("actor")

	rootCmd.AddCommand(serveCmd, migrateCmd, seedCategoriesCmd)
}
