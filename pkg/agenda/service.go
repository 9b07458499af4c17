package agenda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klokku/taskmanager/internal/event_bus"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/reconciler"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidTimeRange = errors.New("event ends before it starts")
	ErrEmptyName        = errors.New("event name is required")
)

// Syncer runs a reconciliation pass.
type Syncer interface {
	SyncAllAccounts(ctx context.Context) *reconciler.Report
}

// Service is the single entry point used by the shell, the CLI and the daemon. Every call holds one lock,
// so a sync pass never overlaps local edits or ticks.
type Service struct {
	mu       sync.Mutex
	events   event.Repository
	accounts *account.Service
	calendar *calendar.Calendar
	syncer   Syncer
	bus      *event_bus.EventBus
	clock    utils.Clock

	localAccount *int64
}

func NewService(
	events event.Repository,
	accounts *account.Service,
	cal *calendar.Calendar,
	syncer Syncer,
	bus *event_bus.EventBus,
	clock utils.Clock,
) *Service {
	return &Service{
		events:   events,
		accounts: accounts,
		calendar: cal,
		syncer:   syncer,
		bus:      bus,
		clock:    clock,
	}
}

// Load makes sure the LOCAL account exists, reads every stored event and classifies them at the current time.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, err := s.accounts.EnsureLocal(ctx)
	if err != nil {
		log.Error(err)
		return err
	}
	if local.Id != 0 {
		s.localAccount = event.AccountRef(local.Id)
	}

	all, err := s.events.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	s.calendar.Replace(all, s.clock.Now())
	log.Debugf("loaded %d events", len(all))
	return nil
}

// CreateEvent stores a local event and classifies it at now. Events without an account belong to the LOCAL one.
func (s *Service) CreateEvent(ctx context.Context, e event.Event, now time.Time) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return event.Event{}, ErrEmptyName
	}
	if e.End.Before(e.Start) {
		return event.Event{}, fmt.Errorf("%w: %s > %s", ErrInvalidTimeRange, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	if e.AccountId == nil && s.localAccount != nil {
		e.AccountId = event.AccountRef(*s.localAccount)
	}

	id, err := s.events.Insert(ctx, e)
	if err != nil {
		return event.Event{}, fmt.Errorf("failed to create event: %w", err)
	}
	e.Id = id
	s.calendar.Add(e, now)

	s.publish(ctx, event_bus.EventCreatedType, event_bus.EventCreated{
		Id:        e.Id,
		Name:      e.Name,
		StartTime: e.Start,
		EndTime:   e.End,
		AccountId: accountIdOf(e),
	})
	return e, nil
}

// UpdateEventById renames an event and replaces its description.
func (s *Service) UpdateEventById(ctx context.Context, id int64, name, description string) (event.Event, error) {
	return s.EditEvent(ctx, id, EventChanges{Name: &name, Description: &description})
}

// SetOngoing flips the user controlled ongoing flag.
func (s *Service) SetOngoing(ctx context.Context, id int64, ongoing bool) (event.Event, error) {
	return s.EditEvent(ctx, id, EventChanges{Ongoing: &ongoing})
}

// EventChanges lists the fields to change; nil fields keep their stored value.
type EventChanges struct {
	Name        *string
	Description *string
	Ongoing     *bool
}

// EditEvent applies changes with a single store write.
func (s *Service) EditEvent(ctx context.Context, id int64, changes EventChanges) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.calendar.Get(id)
	if !ok {
		return event.Event{}, event.ErrEventNotFound
	}
	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return event.Event{}, ErrEmptyName
		}
		e.Name = name
	}
	if changes.Description != nil {
		e.Description = *changes.Description
	}
	if changes.Ongoing != nil {
		e.Ongoing = *changes.Ongoing
	}
	if err := s.events.Update(ctx, e); err != nil {
		return event.Event{}, fmt.Errorf("failed to update event %d: %w", id, err)
	}
	s.calendar.Add(e, s.calendar.Now())

	s.publish(ctx, event_bus.EventUpdatedType, event_bus.EventUpdated{Id: id, Name: e.Name})
	return e, nil
}

func (s *Service) RemoveEventById(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calendar.Get(id); !ok {
		return event.ErrEventNotFound
	}
	if err := s.events.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove event %d: %w", id, err)
	}
	s.calendar.Remove(id)
	s.publish(ctx, event_bus.EventRemovedType, event_bus.EventRemoved{Id: id})
	return nil
}

func (s *Service) Get(id int64) (event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendar.Get(id)
}

// ListEvents returns all events in insertion order.
func (s *Service) ListEvents() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendar.All()
}

func (s *Service) Bucket(b calendar.Bucket) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendar.Bucket(b)
}

func (s *Service) Past() []event.Event {
	return s.Bucket(calendar.Past)
}

func (s *Service) Ongoing() []event.Event {
	return s.Bucket(calendar.Ongoing)
}

func (s *Service) Future() []event.Event {
	return s.Bucket(calendar.Future)
}

// EventsForMonth returns the events overlapping the given month in loc, ordered by start.
func (s *Service) EventsForMonth(year int, month time.Month, loc *time.Location) []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 1, 0)

	var events []event.Event
	for _, e := range s.calendar.All() {
		end := e.End
		if end.Before(e.Start) {
			end = e.Start
		}
		if e.Start.Before(to) && !end.Before(from) {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events
}

// Tick moves the reference instant to now and returns how many events changed bucket.
func (s *Service) Tick(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := s.calendar.Reclassify(now)
	if moved > 0 {
		log.Debugf("tick at %s moved %d event(s)", now.Format(time.RFC3339), moved)
	}
	return moved
}

// SyncAllAccounts runs one reconciliation pass.
func (s *Service) SyncAllAccounts(ctx context.Context) *reconciler.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncer.SyncAllAccounts(ctx)
}

func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) publish(ctx context.Context, eventType event_bus.EventType, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(event_bus.NewEvent(ctx, eventType, data)); err != nil {
		log.Errorf("failed to publish %s: %v", eventType, err)
	}
}

func accountIdOf(e event.Event) int64 {
	if e.AccountId == nil {
		return 0
	}
	return *e.AccountId
}
