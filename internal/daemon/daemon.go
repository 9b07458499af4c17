package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/taskmanager/internal/app"
	"github.com/klokku/taskmanager/internal/event_bus"
	"github.com/klokku/taskmanager/internal/rest"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const Version = "1.0.0"

type State int

const (
	Starting State = iota
	Configuring
	Active
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Configuring:
		return "configuring"
	case Active:
		return "active"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Daemon keeps the agenda classified and synchronized in the background and serves it over HTTP.
type Daemon struct {
	app *app.Application

	mu       sync.Mutex
	state    State
	lastSync   *event_bus.SyncCompleted
	lastChange *lastChangeDTO
	addr     net.Addr
	ready    chan struct{}
}

func New(application *app.Application) *Daemon {
	return &Daemon{
		app:   application,
		state: Starting,
		ready: make(chan struct{}),
	}
}

func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Addr is the address the HTTP server listens on, nil before the daemon is active.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Ready is closed once the daemon reaches Active.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	log.Infof("daemon: %s -> %s", d.state, s)
	d.state = s
	if s == Active {
		close(d.ready)
	}
}

// Run blocks until ctx is cancelled or the HTTP server fails. Signal handling belongs to the caller,
// which only has to cancel ctx.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.app.Config
	d.setState(Configuring)

	if err := writePidFile(cfg.Daemon.PidFile); err != nil {
		d.setState(Stopped)
		return err
	}
	defer removePidFile(cfg.Daemon.PidFile)

	bus := d.app.Deps.EventBus
	for _, unsubscribe := range []func(){
		event_bus.SubscribeTyped(bus, event_bus.SyncCompletedType, d.onSyncCompleted),
		event_bus.SubscribeTyped(bus, event_bus.EventCreatedType, func(e event_bus.EventT[event_bus.EventCreated]) error {
			return d.recordChange("created", e.Data.Id, e.Timestamp)
		}),
		event_bus.SubscribeTyped(bus, event_bus.EventUpdatedType, func(e event_bus.EventT[event_bus.EventUpdated]) error {
			return d.recordChange("updated", e.Data.Id, e.Timestamp)
		}),
		event_bus.SubscribeTyped(bus, event_bus.EventRemovedType, func(e event_bus.EventT[event_bus.EventRemoved]) error {
			return d.recordChange("removed", e.Data.Id, e.Timestamp)
		}),
	} {
		defer unsubscribe()
	}

	scheduler, err := d.scheduler(ctx)
	if err != nil {
		d.setState(Stopped)
		return err
	}

	listener, err := net.Listen("tcp", cfg.Daemon.Listen)
	if err != nil {
		d.setState(Stopped)
		return fmt.Errorf("failed to listen on %s: %w", cfg.Daemon.Listen, err)
	}
	srv := &http.Server{
		Handler:      d.router(),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	scheduler.Start()
	d.mu.Lock()
	d.addr = listener.Addr()
	d.mu.Unlock()
	d.setState(Active)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = err
	}

	d.setState(ShuttingDown)
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("failed to shut down http server: %v", err)
	}
	d.setState(Stopped)
	return runErr
}

func (d *Daemon) scheduler(ctx context.Context) (*cron.Cron, error) {
	cfg := d.app.Config.Sync
	agenda := d.app.Deps.AgendaService
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(cfg.Tick, func() {
		agenda.Tick(agenda.Now())
	}); err != nil {
		return nil, fmt.Errorf("invalid tick schedule %q: %w", cfg.Tick, err)
	}
	if _, err := c.AddFunc(cfg.Schedule, func() {
		report := agenda.SyncAllAccounts(ctx)
		log.Info(report.String())
	}); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", cfg.Schedule, err)
	}
	return c, nil
}

func (d *Daemon) router() *mux.Router {
	r := d.app.Router()
	r.HandleFunc("/api/version", d.getVersion).Methods("GET")
	r.HandleFunc("/api/status", d.getStatus).Methods("GET")
	return r
}

func (d *Daemon) onSyncCompleted(e event_bus.EventT[event_bus.SyncCompleted]) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	result := e.Data
	d.lastSync = &result
	return nil
}

// recordChange remembers the latest local mutation for the status endpoint.
func (d *Daemon) recordChange(kind string, id int64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastChange = &lastChangeDTO{Kind: kind, EventId: id, At: at}
	return nil
}

type statusDTO struct {
	State      string         `json:"state"`
	Events     int            `json:"events"`
	LastSync   *lastSyncDTO   `json:"lastSync,omitempty"`
	LastChange *lastChangeDTO `json:"lastChange,omitempty"`
	Buckets    map[string]int `json:"buckets"`
}

type lastChangeDTO struct {
	Kind    string    `json:"kind"`
	EventId int64     `json:"eventId"`
	At      time.Time `json:"at"`
}

type lastSyncDTO struct {
	PassId   string `json:"passId"`
	Success  bool   `json:"success"`
	Accounts int    `json:"accounts"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Failures int    `json:"failures"`
	Duration string `json:"duration"`
}

func (d *Daemon) getVersion(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, map[string]string{"version": Version})
}

func (d *Daemon) getStatus(w http.ResponseWriter, r *http.Request) {
	agenda := d.app.Deps.AgendaService
	status := statusDTO{
		Events: len(agenda.ListEvents()),
		Buckets: map[string]int{
			"past":    len(agenda.Past()),
			"ongoing": len(agenda.Ongoing()),
			"future":  len(agenda.Future()),
		},
	}

	d.mu.Lock()
	status.State = d.state.String()
	if d.lastSync != nil {
		status.LastSync = &lastSyncDTO{
			PassId:   d.lastSync.PassId,
			Success:  d.lastSync.Success,
			Accounts: d.lastSync.Accounts,
			Created:  d.lastSync.Created,
			Updated:  d.lastSync.Updated,
			Failures: d.lastSync.Failures,
			Duration: d.lastSync.Duration.String(),
		}
	}
	status.LastChange = d.lastChange
	d.mu.Unlock()

	rest.WriteJSON(w, http.StatusOK, status)
}

func writePidFile(path string) error {
	if path == "" {
		return nil
	}
	if content, err := os.ReadFile(path); err == nil {
		log.Warnf("pid file %s already exists (pid %s), overwriting", path, strings.TrimSpace(string(content)))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create pid file directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func removePidFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Errorf("failed to remove pid file: %v", err)
	}
}
