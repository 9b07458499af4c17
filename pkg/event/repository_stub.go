package event

import (
	"context"
	"fmt"
	"sync"
)

// RepositoryStub is an in-memory Repository that mirrors the uniqueness rules of the events table.
// The Fail* hooks let tests inject persistence failures; the *Calls counters record attempts.
type RepositoryStub struct {
	mu     sync.Mutex
	items  map[int64]Event
	order  []int64
	nextId int64

	InsertCalls int
	UpdateCalls int
	RemoveCalls int

	FailInsert       func(event Event) error
	FailUpdate       func(event Event) error
	FailRemoveSeries func(accountId int64) error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		items:  make(map[int64]Event),
		nextId: 1,
	}
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.mu.Lock()
	// Create a copy of the current state for rollback
	originalItems := make(map[int64]Event, len(r.items))
	for k, v := range r.items {
		originalItems[k] = v
	}
	originalOrder := append([]int64(nil), r.order...)
	originalNextId := r.nextId
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.items = originalItems
		r.order = originalOrder
		r.nextId = originalNextId
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) Insert(ctx context.Context, event Event) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.InsertCalls++
	if r.FailInsert != nil {
		if err := r.FailInsert(event); err != nil {
			return 0, err
		}
	}
	if err := r.checkUnique(event); err != nil {
		return 0, err
	}
	event.Id = r.nextId
	r.nextId++
	r.items[event.Id] = copyEvent(event)
	r.order = append(r.order, event.Id)
	return event.Id, nil
}

func (r *RepositoryStub) Update(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.UpdateCalls++
	if r.FailUpdate != nil {
		if err := r.FailUpdate(event); err != nil {
			return err
		}
	}
	if _, ok := r.items[event.Id]; !ok {
		return ErrEventNotFound
	}
	if err := r.checkUnique(event); err != nil {
		return err
	}
	r.items[event.Id] = copyEvent(event)
	return nil
}

func (r *RepositoryStub) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.RemoveCalls++
	if _, ok := r.items[id]; !ok {
		return ErrEventNotFound
	}
	r.delete(id)
	return nil
}

func (r *RepositoryStub) Get(ctx context.Context, id int64) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.items[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return copyEvent(event), nil
}

func (r *RepositoryStub) GetAll(ctx context.Context) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, 0, len(r.order))
	for _, id := range r.order {
		events = append(events, copyEvent(r.items[id]))
	}
	return events, nil
}

func (r *RepositoryStub) RemoveSeriesInstances(ctx context.Context, accountId int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailRemoveSeries != nil {
		if err := r.FailRemoveSeries(accountId); err != nil {
			return 0, err
		}
	}
	var removed int64
	for _, id := range append([]int64(nil), r.order...) {
		event := r.items[id]
		if event.SeriesID != "" && event.BelongsTo(accountId) {
			r.delete(id)
			removed++
		}
	}
	return removed, nil
}

// ResetCalls zeroes the call counters without touching stored events.
func (r *RepositoryStub) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InsertCalls = 0
	r.UpdateCalls = 0
	r.RemoveCalls = 0
}

func (r *RepositoryStub) checkUnique(event Event) error {
	for _, id := range r.order {
		other := r.items[id]
		if other.Id == event.Id {
			continue
		}
		if event.IsSingle() && other.IsSingle() && other.ExternalUID == event.ExternalUID {
			return fmt.Errorf("single event with external uid %s already exists", event.ExternalUID)
		}
		if event.SeriesID != "" && other.SeriesID == event.SeriesID {
			return fmt.Errorf("primary of series %s already exists", event.SeriesID)
		}
	}
	return nil
}

func (r *RepositoryStub) delete(id int64) {
	delete(r.items, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func copyEvent(event Event) Event {
	if event.Occurrences != nil {
		event.Occurrences = append([]Occurrence(nil), event.Occurrences...)
	}
	if event.AccountId != nil {
		event.AccountId = AccountRef(*event.AccountId)
	}
	return event
}
