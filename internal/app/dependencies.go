package app

import (
	"time"

	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/internal/database"
	"github.com/klokku/taskmanager/internal/event_bus"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/agenda"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/export"
	"github.com/klokku/taskmanager/pkg/provider"
	"github.com/klokku/taskmanager/pkg/provider/google"
	"github.com/klokku/taskmanager/pkg/provider/ics"
	"github.com/klokku/taskmanager/pkg/reconciler"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	AccountRepo    account.Repository
	AccountService *account.Service

	EventRepo event.Repository

	Providers    *provider.Registry
	GoogleLinker *google.Linker

	Calendar   *calendar.Calendar
	EventBus   *event_bus.EventBus
	Reconciler *reconciler.Reconciler

	AgendaService *agenda.Service
	AgendaHandler *agenda.Handler
	ExportHandler *export.Handler

	Clock utils.Clock
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *database.DB, cfg config.Application, clock utils.Clock) *Dependencies {
	deps := &Dependencies{Clock: clock}

	deps.AccountRepo = account.NewRepository(db)
	deps.AccountService = account.NewService(deps.AccountRepo)

	deps.EventRepo = event.NewRepository(db)

	deps.Providers = provider.NewRegistry()
	deps.Providers.Register(account.GoogleCalendar, google.Factory(cfg.Google, google.WithClock(clock)))
	deps.Providers.Register(account.ICSFeed, ics.Factory(cfg.ICS, ics.WithClock(clock), ics.WithLocation(time.Local)))
	deps.GoogleLinker = google.NewLinker(cfg.Google)

	deps.Calendar = calendar.New()
	deps.EventBus = event_bus.NewEventBus()
	deps.Reconciler = reconciler.New(deps.AccountRepo, deps.EventRepo, deps.Providers, deps.Calendar, deps.EventBus, clock,
		reconciler.Options{
			MaxResults:       cfg.Sync.MaxResults,
			StoreOccurrences: cfg.Sync.StoreOccurrences,
		})

	deps.AgendaService = agenda.NewService(deps.EventRepo, deps.AccountService, deps.Calendar, deps.Reconciler, deps.EventBus, clock)
	deps.AgendaHandler = agenda.NewHandler(deps.AgendaService)
	deps.ExportHandler = export.NewHandler(deps.AgendaService, clock)

	return deps
}
