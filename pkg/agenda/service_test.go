package agenda

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/klokku/taskmanager/internal/event_bus"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

type syncerStub struct {
	calls  int
	report *reconciler.Report
}

func (s *syncerStub) SyncAllAccounts(ctx context.Context) *reconciler.Report {
	s.calls++
	return s.report
}

type fixture struct {
	ctx      context.Context
	events   *event.RepositoryStub
	accounts *account.RepositoryStub
	syncer   *syncerStub
	bus      *event_bus.EventBus
	clock    *utils.MockClock
	service  *Service
}

func setupService(t *testing.T) *fixture {
	f := &fixture{
		ctx:      context.Background(),
		events:   event.NewRepositoryStub(),
		accounts: account.NewRepositoryStub(),
		syncer:   &syncerStub{report: &reconciler.Report{PassId: "pass-1", Success: true, Created: 2}},
		bus:      event_bus.NewEventBus(),
		clock:    &utils.MockClock{FixedNow: now},
	}
	f.service = NewService(f.events, account.NewService(f.accounts), calendar.New(), f.syncer, f.bus, f.clock)
	require.NoError(t, f.service.Load(f.ctx))
	return f
}

func hour(offset int) time.Time {
	return now.Add(time.Duration(offset) * time.Hour)
}

func TestService_Load(t *testing.T) {
	// given
	f := setupService(t)
	_, err := f.events.Insert(f.ctx, event.Event{Name: "stored", Start: hour(-3), End: hour(-2)})
	require.NoError(t, err)

	// when
	err = f.service.Load(f.ctx)

	// then
	require.NoError(t, err)
	accounts, _ := f.accounts.GetAll(f.ctx)
	require.Len(t, accounts, 1)
	assert.Equal(t, account.Local, accounts[0].Type)
	assert.Len(t, f.service.Past(), 1)
	assert.Len(t, f.service.ListEvents(), 1)
}

func TestService_CreateEvent(t *testing.T) {
	// given
	f := setupService(t)
	var created []event_bus.EventCreated
	event_bus.SubscribeTyped(f.bus, event_bus.EventCreatedType, func(e event_bus.EventT[event_bus.EventCreated]) error {
		created = append(created, e.Data)
		return nil
	})

	// when
	e, err := f.service.CreateEvent(f.ctx, event.Event{Name: "  Write report ", Start: hour(0), End: hour(1)}, now)

	// then
	require.NoError(t, err)
	assert.NotZero(t, e.Id)
	assert.Equal(t, "Write report", e.Name)
	require.NotNil(t, e.AccountId)
	local, _, err := account.NewService(f.accounts).FindLocal(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, local.Id, *e.AccountId)
	assert.Len(t, f.service.Ongoing(), 1)
	require.Len(t, created, 1)
	assert.Equal(t, e.Id, created[0].Id)
}

func TestService_CreateEvent_Validation(t *testing.T) {
	f := setupService(t)

	_, err := f.service.CreateEvent(f.ctx, event.Event{Name: "backwards", Start: hour(2), End: hour(1)}, now)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)

	_, err = f.service.CreateEvent(f.ctx, event.Event{Name: " ", Start: hour(1), End: hour(2)}, now)
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.Equal(t, 0, f.events.InsertCalls)
	assert.Empty(t, f.service.ListEvents())
}

func TestService_UpdateEventById(t *testing.T) {
	// given
	f := setupService(t)
	e, err := f.service.CreateEvent(f.ctx, event.Event{Name: "draft", Start: hour(1), End: hour(2)}, now)
	require.NoError(t, err)

	// when
	updated, err := f.service.UpdateEventById(f.ctx, e.Id, "final", "with notes")

	// then
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Name)
	stored, err := f.events.Get(f.ctx, e.Id)
	require.NoError(t, err)
	assert.Equal(t, "with notes", stored.Description)
	got, _ := f.service.Get(e.Id)
	assert.Equal(t, "final", got.Name)
	assert.Len(t, f.service.Future(), 1)

	_, err = f.service.UpdateEventById(f.ctx, 999, "x", "")
	assert.ErrorIs(t, err, event.ErrEventNotFound)
}

func TestService_SetOngoing(t *testing.T) {
	f := setupService(t)
	e, err := f.service.CreateEvent(f.ctx, event.Event{Name: "task", Start: hour(1), End: hour(2)}, now)
	require.NoError(t, err)

	updated, err := f.service.SetOngoing(f.ctx, e.Id, true)

	require.NoError(t, err)
	assert.True(t, updated.Ongoing)
	// the flag does not change the temporal bucket
	assert.Len(t, f.service.Future(), 1)
}

func TestService_RemoveEventById(t *testing.T) {
	f := setupService(t)
	e, err := f.service.CreateEvent(f.ctx, event.Event{Name: "gone soon", Start: hour(1), End: hour(2)}, now)
	require.NoError(t, err)

	require.NoError(t, f.service.RemoveEventById(f.ctx, e.Id))

	assert.Empty(t, f.service.ListEvents())
	_, err = f.events.Get(f.ctx, e.Id)
	assert.ErrorIs(t, err, event.ErrEventNotFound)
	assert.ErrorIs(t, f.service.RemoveEventById(f.ctx, e.Id), event.ErrEventNotFound)
}

func TestService_EventsForMonth(t *testing.T) {
	// given
	f := setupService(t)
	inMonth := func(name string, start, end time.Time) {
		_, err := f.service.CreateEvent(f.ctx, event.Event{Name: name, Start: start, End: end}, now)
		require.NoError(t, err)
	}
	inMonth("february", time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC), time.Date(2025, 2, 3, 11, 0, 0, 0, time.UTC))
	inMonth("new year", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC))
	inMonth("spanning", time.Date(2024, 12, 31, 22, 0, 0, 0, time.UTC), time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC))
	inMonth("mid january", time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC))

	// when
	events := f.service.EventsForMonth(2025, time.January, time.UTC)

	// then
	var names []string
	for _, e := range events {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"spanning", "new year", "mid january"}, names)
}

func TestService_Tick(t *testing.T) {
	f := setupService(t)
	_, err := f.service.CreateEvent(f.ctx, event.Event{Name: "soon", Start: hour(1), End: hour(2)}, now)
	require.NoError(t, err)

	assert.Equal(t, 0, f.service.Tick(now))
	assert.Equal(t, 1, f.service.Tick(hour(1).Add(time.Minute)))
	assert.Len(t, f.service.Ongoing(), 1)
	assert.Equal(t, 1, f.service.Tick(hour(3)))
	assert.Len(t, f.service.Past(), 1)
}

func TestService_SyncAllAccounts(t *testing.T) {
	f := setupService(t)

	report := f.service.SyncAllAccounts(f.ctx)

	assert.Equal(t, 1, f.syncer.calls)
	assert.Equal(t, "pass-1", report.PassId)
}

func TestService_SerializesConcurrentCallers(t *testing.T) {
	f := setupService(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.CreateEvent(f.ctx, event.Event{Name: "parallel", Start: hour(i), End: hour(i + 1)}, now)
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			f.service.Tick(hour(i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.service.ListEvents(), 20)
}

func TestService_EditEvent_WritesOnce(t *testing.T) {
	// given
	f := setupService(t)
	e, err := f.service.CreateEvent(f.ctx, event.Event{Name: "draft", Description: "old", Start: hour(1), End: hour(2)}, now)
	require.NoError(t, err)
	f.events.ResetCalls()
	name, ongoing := "final", true

	// when
	updated, err := f.service.EditEvent(f.ctx, e.Id, EventChanges{Name: &name, Ongoing: &ongoing})

	// then
	require.NoError(t, err)
	assert.Equal(t, 1, f.events.UpdateCalls)
	assert.Equal(t, "final", updated.Name)
	assert.Equal(t, "old", updated.Description)
	assert.True(t, updated.Ongoing)
}
