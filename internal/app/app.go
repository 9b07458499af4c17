package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gorilla/mux"
	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/internal/database"
	"github.com/klokku/taskmanager/internal/utils"
	log "github.com/sirupsen/logrus"
)

// Application wires configuration, database and services. Every front end (shell, CLI, daemon) starts from it.
type Application struct {
	Config config.Application
	Deps   *Dependencies
	db     *database.DB
}

// NewApplication loads the configuration at cfgPath, opens and migrates the database and loads all events.
func NewApplication(ctx context.Context, cfgPath string) (*Application, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return NewApplicationWithConfig(ctx, cfg, utils.SystemClock{})
}

func NewApplicationWithConfig(ctx context.Context, cfg config.Application, clock utils.Clock) (*Application, error) {
	applyLogLevel(cfg.LogLevel)

	// DB + migrations
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Build dependencies (services, handlers...)
	deps := BuildDependencies(db, cfg, clock)
	if err := deps.AgendaService.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load agenda: %w", err)
	}

	return &Application{Config: cfg, Deps: deps, db: db}, nil
}

// Router returns a router with the middleware chain and every API route registered.
func (a *Application) Router() *mux.Router {
	r := mux.NewRouter()
	SetupMiddleware(r)
	RegisterRoutes(r, a.Deps)
	return r
}

func (a *Application) Close() error {
	return a.db.Close()
}

// applyLogLevel honours the configured level unless LOG_LEVEL already decided it.
func applyLogLevel(level string) {
	if os.Getenv("LOG_LEVEL") != "" || level == "" {
		return
	}
	logrusLevel, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("invalid log level %q in configuration, keeping %s", level, log.GetLevel())
		return
	}
	log.SetLevel(logrusLevel)
}
