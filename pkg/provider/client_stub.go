package provider

import (
	"context"
	"sync"
)

// ClientStub is a scripted Client for tests.
type ClientStub struct {
	mu sync.Mutex

	Events []RawEvent
	Err    error
	// RotatedToken, when set, replaces the refresh token after a successful ListEvents.
	RotatedToken string

	ListCalls      int
	LastMaxResults int
	LastToken      string
	Cleared        int

	token string
}

func (c *ClientStub) ListEvents(ctx context.Context, maxResults int, refreshToken string) ([]RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ListCalls++
	c.LastMaxResults = maxResults
	c.LastToken = refreshToken
	c.token = refreshToken
	if c.Err != nil {
		return nil, c.Err
	}
	if c.RotatedToken != "" {
		c.token = c.RotatedToken
	}
	events := c.Events
	if maxResults > 0 && len(events) > maxResults {
		events = events[:maxResults]
	}
	return append([]RawEvent(nil), events...), nil
}

func (c *ClientStub) CurrentRefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *ClientStub) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cleared++
}
