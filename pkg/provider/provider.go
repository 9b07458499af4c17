package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/event"
)

var ErrNoProvider = errors.New("account type has no provider")

// RawEvent is a provider event normalized at the client boundary. Start and End are already parsed;
// Payload keeps the provider representation for provenance.
type RawEvent struct {
	AccountType account.Type
	ExternalUID string
	ETag        string
	// SeriesID is the id of the recurring series the event is an instance of, empty for single events.
	SeriesID    string
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	Payload     json.RawMessage
}

func (r RawEvent) IsRecurring() bool {
	return r.SeriesID != ""
}

func (r RawEvent) Occurrence() event.Occurrence {
	return event.Occurrence{
		ExternalUID: r.ExternalUID,
		ETag:        r.ETag,
		Name:        r.Name,
		Start:       r.Start,
		End:         r.End,
		Payload:     r.Payload,
	}
}

// Client lists the remote events of one account.
type Client interface {
	// ListEvents returns at most maxResults upcoming events, authenticating with refreshToken.
	ListEvents(ctx context.Context, maxResults int, refreshToken string) ([]RawEvent, error)
	// CurrentRefreshToken returns the credential to persist after ListEvents; providers may rotate it.
	CurrentRefreshToken() string
	// Clear drops any state kept between calls.
	Clear()
}

// Factory builds a Client for a linked account.
type Factory func(acc account.Account) (Client, error)

// Registry maps account types to the provider that can sync them.
type Registry struct {
	mu        sync.RWMutex
	factories map[account.Type]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[account.Type]Factory)}
}

func (r *Registry) Register(accountType account.Type, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[accountType] = factory
}

func (r *Registry) Supports(accountType account.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[accountType]
	return ok
}

// ClientFor returns a Client for acc, or ErrNoProvider when its type has no registered provider.
func (r *Registry) ClientFor(acc account.Account) (Client, error) {
	r.mu.RLock()
	factory, ok := r.factories[acc.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (account %d)", ErrNoProvider, acc.Type, acc.Id)
	}
	client, err := factory(acc)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client for account %d: %w", acc.Type, acc.Id, err)
	}
	return client, nil
}
