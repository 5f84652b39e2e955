package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/api"
	"github.com/steveterryp/copov3/internal/app"
	"github.com/steveterryp/copov3/internal/app/maintenance"
	iauth "github.com/steveterryp/copov3/internal/auth"
	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/database"
	"github.com/steveterryp/copov3/internal/services"
	"github.com/steveterryp/copov3/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("copov-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	tokenSvc, err := iauth.NewTokenService(iauth.TokenConfig{
		AccessSecret:  cfg.Auth.JWT.AccessSecret,
		RefreshSecret: cfg.Auth.JWT.RefreshSecret,
		Issuer:        cfg.Auth.JWT.Issuer,
		AccessTTL:     cfg.Auth.JWT.AccessTTL,
		RefreshTTL:    cfg.Auth.JWT.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}

	refreshStore, err := iauth.NewRefreshStore(db, nil)
	if err != nil {
		return fmt.Errorf("initialise refresh store: %w", err)
	}

	sessionSvc, err := iauth.NewSessionService(db, tokenSvc, refreshStore, nil)
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	resolver, err := authz.NewResolver(db)
	if err != nil {
		return fmt.Errorf("initialise resource resolver: %w", err)
	}

	cache := authz.NewDecisionCache(authz.CacheConfig{
		PermissionTTL: cfg.Cache.PermissionTTL,
		MembershipTTL: cfg.Cache.MembershipTTL,
		Capacity:      cfg.Cache.Capacity,
	})

	evaluator, err := authz.NewEvaluator(db, resolver, cache, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise permission evaluator: %w", err)
	}

	userSvc, err := services.NewUserService(db, cache, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}

	teamSvc, err := services.NewTeamService(db, cache, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise team service: %w", err)
	}

	ruleSvc, err := services.NewRuleService(db, cache, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise rule service: %w", err)
	}

	statusSvc, err := services.NewStatusService(db, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise status service: %w", err)
	}

	if err := bootstrapSuperAdmin(ctx, db, userSvc, log); err != nil {
		return err
	}

	cleaner := maintenance.NewCleaner(refreshStore, auditSvc,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays))
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		if err := cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	router, err := api.NewRouter(db, cfg, api.Services{
		Sessions:  sessionSvc,
		Users:     userSvc,
		Teams:     teamSvc,
		Rules:     ruleSvc,
		Statuses:  statusSvc,
		Audit:     auditSvc,
		Evaluator: evaluator,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql", "mariadb":
		dbCfg.Driver = "mysql"
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("resolve database handle for close", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
