package google

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/provider"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const noTitle = "No Title"

// Client lists the events of one Google Calendar account.
type Client struct {
	oauthConfig *oauth2.Config
	calendarId  string
	endpoint    string
	clock       utils.Clock

	mu           sync.Mutex
	refreshToken string
}

type Option func(c *Client)

// WithEndpoint points the Calendar API at another base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithTokenURL replaces Google's token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.oauthConfig.Endpoint = oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
}

func WithClock(clock utils.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

func NewOAuthConfig(cfg config.Google) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientId,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.RedirectUrl,
		Scopes:       []string{gcal.CalendarReadonlyScope},
	}
}

func NewClient(cfg config.Google, opts ...Option) *Client {
	calendarId := cfg.CalendarId
	if calendarId == "" {
		calendarId = "primary"
	}
	c := &Client{
		oauthConfig: NewOAuthConfig(cfg),
		calendarId:  calendarId,
		clock:       utils.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory returns a provider.Factory building a Client per account.
func Factory(cfg config.Google, opts ...Option) provider.Factory {
	return func(acc account.Account) (provider.Client, error) {
		if cfg.ClientId == "" {
			return nil, fmt.Errorf("google client id is not configured")
		}
		return NewClient(cfg, opts...), nil
	}
}

func (c *Client) ListEvents(ctx context.Context, maxResults int, refreshToken string) ([]provider.RawEvent, error) {
	c.mu.Lock()
	c.refreshToken = refreshToken
	c.mu.Unlock()

	tokenSource := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	service, err := c.prepareService(ctx, tokenSource)
	if err != nil {
		return nil, err
	}

	call := service.Events.List(c.calendarId).
		TimeMin(c.clock.Now().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	googleEvents, err := call.Do()
	if err != nil {
		err := fmt.Errorf("unable to retrieve events from Google Calendar: %w", err)
		log.Error(err)
		return nil, err
	}

	// The token source keeps the previous refresh token unless Google handed out a new one.
	if token, err := tokenSource.Token(); err == nil && token.RefreshToken != "" {
		c.mu.Lock()
		if token.RefreshToken != c.refreshToken {
			log.Debug("Google rotated the refresh token")
		}
		c.refreshToken = token.RefreshToken
		c.mu.Unlock()
	}

	return googleEventsToRawEvents(googleEvents), nil
}

func (c *Client) CurrentRefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken
}

func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshToken = ""
}

func (c *Client) prepareService(ctx context.Context, tokenSource oauth2.TokenSource) (*gcal.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		err := fmt.Errorf("unable to retrieve Calendar client: %w", err)
		log.Error(err)
		return nil, err
	}
	return service, nil
}

func googleEventsToRawEvents(googleEvents *gcal.Events) []provider.RawEvent {
	calendarLocation := loadLocation(googleEvents.TimeZone, time.UTC)
	events := make([]provider.RawEvent, 0, len(googleEvents.Items))
	for _, item := range googleEvents.Items {
		name := item.Summary
		if name == "" {
			name = noTitle
		}
		payload, err := json.Marshal(item)
		if err != nil {
			log.Warnf("unable to keep payload of Google event %s: %v", item.Id, err)
			payload = nil
		}
		events = append(events, provider.RawEvent{
			AccountType: account.GoogleCalendar,
			ExternalUID: item.Id,
			ETag:        item.Etag,
			SeriesID:    item.RecurringEventId,
			Name:        name,
			Description: item.Description,
			Start:       parseEventDateTime(item.Start, calendarLocation),
			End:         parseEventDateTime(item.End, calendarLocation),
			Payload:     payload,
		})
	}
	return events
}

// parseEventDateTime reads dateTime and falls back to the all-day date, interpreted in the event's time zone.
func parseEventDateTime(value *gcal.EventDateTime, calendarLocation *time.Location) time.Time {
	if value == nil {
		return time.Time{}
	}
	if value.DateTime != "" {
		t, err := time.Parse(time.RFC3339, value.DateTime)
		if err == nil {
			return t
		}
		log.Warnf("unable to parse Google dateTime %q: %v", value.DateTime, err)
	}
	if value.Date != "" {
		t, err := time.ParseInLocation(time.DateOnly, value.Date, loadLocation(value.TimeZone, calendarLocation))
		if err == nil {
			return t
		}
		log.Warnf("unable to parse Google date %q: %v", value.Date, err)
	}
	return time.Time{}
}

func loadLocation(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Debugf("unknown time zone %q, using %s", name, fallback)
		return fallback
	}
	return loc
}
