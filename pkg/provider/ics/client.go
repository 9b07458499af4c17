package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/provider"
	log "github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerSeries = 5000

// Client reads a public or secret-address iCalendar feed. Feeds carry no credentials,
// so the refresh token passes through unchanged.
type Client struct {
	httpClient *http.Client
	url        string
	horizon    time.Duration
	clock      utils.Clock
	location   *time.Location

	refreshToken string
}

type Option func(c *Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithClock(clock utils.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLocation sets the zone floating times and dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.location = loc }
}

func NewClient(url string, cfg config.ICS, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        url,
		horizon:    time.Duration(cfg.HorizonDays) * 24 * time.Hour,
		clock:      utils.SystemClock{},
		location:   time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory builds a Client for the feed stored in the account's endpoint.
func Factory(cfg config.ICS, opts ...Option) provider.Factory {
	return func(acc account.Account) (provider.Client, error) {
		if acc.Endpoint == "" {
			return nil, fmt.Errorf("ICS account %d has no feed URL", acc.Id)
		}
		return NewClient(acc.Endpoint, cfg, opts...), nil
	}
}

func (c *Client) ListEvents(ctx context.Context, maxResults int, refreshToken string) ([]provider.RawEvent, error) {
	c.refreshToken = refreshToken

	cal, err := c.fetch(ctx)
	if err != nil {
		log.Error(err)
		return nil, err
	}

	from := c.clock.Now()
	to := from.Add(c.horizon)
	events := expand(cal.Events(), from, to, c.location)

	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	if maxResults > 0 && len(events) > maxResults {
		events = events[:maxResults]
	}
	log.Debugf("ICS feed returned %d events between %s and %s", len(events), from.Format(time.RFC3339), to.Format(time.RFC3339))
	return events, nil
}

func (c *Client) CurrentRefreshToken() string {
	return c.refreshToken
}

func (c *Client) Clear() {
	c.refreshToken = ""
}

func (c *Client) fetch(ctx context.Context) (*ical.Calendar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed answered with status %d", resp.StatusCode)
	}

	cal, err := ical.NewDecoder(resp.Body).Decode()
	if err == io.EOF {
		return nil, fmt.Errorf("feed is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return cal, nil
}

type vevent struct {
	uid         string
	name        string
	description string
	start       time.Time
	end         time.Time
	etag        string
	cancelled   bool
	payload     json.RawMessage
}

// expand turns VEVENTs into RawEvents overlapping [from, to]. Recurring events are expanded into one RawEvent
// per occurrence sharing the event UID as series id; RECURRENCE-ID components override single occurrences.
func expand(components []ical.Event, from, to time.Time, loc *time.Location) []provider.RawEvent {
	overrides := make(map[string]map[int64]ical.Event)
	for _, comp := range components {
		rid := comp.Props.Get(ical.PropRecurrenceID)
		if rid == nil {
			continue
		}
		ridTime, err := rid.DateTime(loc)
		if err != nil {
			log.Warnf("skipping override with invalid RECURRENCE-ID %q: %v", rid.Value, err)
			continue
		}
		uid := propText(comp.Component, ical.PropUID)
		if overrides[uid] == nil {
			overrides[uid] = make(map[int64]ical.Event)
		}
		overrides[uid][ridTime.Unix()] = comp
	}

	events := make([]provider.RawEvent, 0, len(components))
	for _, comp := range components {
		if comp.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		base, err := readEvent(comp, loc)
		if err != nil {
			log.Warnf("skipping VEVENT: %v. Trying to continue", err)
			continue
		}

		rruleProp := comp.Props.Get(ical.PropRecurrenceRule)
		if rruleProp == nil && comp.Props.Get(ical.PropRecurrenceDates) == nil {
			if !base.cancelled && overlaps(base.start, base.end, from, to) {
				events = append(events, base.rawEvent("", base.uid))
			}
			continue
		}

		set, err := recurrenceSet(comp, base.start, loc)
		if err != nil {
			log.Warnf("skipping recurring VEVENT %s: %v. Trying to continue", base.uid, err)
			continue
		}
		duration := base.end.Sub(base.start)
		starts := set.Between(from.Add(-duration), to, true)
		if len(starts) > maxOccurrencesPerSeries {
			log.Warnf("series %s truncated to %d occurrences", base.uid, maxOccurrencesPerSeries)
			starts = starts[:maxOccurrencesPerSeries]
		}
		for _, start := range starts {
			occurrence := base
			occurrence.start = start
			occurrence.end = start.Add(duration)
			if override, ok := overrides[base.uid][start.Unix()]; ok {
				overridden, err := readEvent(override, loc)
				if err != nil {
					log.Warnf("ignoring override of %s at %s: %v", base.uid, start, err)
				} else {
					occurrence = overridden
				}
			}
			if occurrence.cancelled || !overlaps(occurrence.start, occurrence.end, from, to) {
				continue
			}
			externalUID := base.uid + "_" + start.UTC().Format("20060102T150405Z")
			events = append(events, occurrence.rawEvent(base.uid, externalUID))
		}
	}
	return events
}

func readEvent(comp ical.Event, loc *time.Location) (vevent, error) {
	uid := propText(comp.Component, ical.PropUID)
	if uid == "" {
		return vevent{}, fmt.Errorf("missing UID")
	}
	start, err := comp.DateTimeStart(loc)
	if err != nil {
		return vevent{}, fmt.Errorf("invalid DTSTART of %s: %w", uid, err)
	}
	end, err := comp.DateTimeEnd(loc)
	if err != nil {
		return vevent{}, fmt.Errorf("invalid DTEND of %s: %w", uid, err)
	}
	if end.IsZero() {
		end = start
	}

	payload, err := json.Marshal(flattenProps(comp.Component))
	if err != nil {
		payload = nil
	}

	return vevent{
		uid:         uid,
		name:        propText(comp.Component, ical.PropSummary),
		description: propText(comp.Component, ical.PropDescription),
		start:       start,
		end:         end,
		etag:        changeToken(comp.Component),
		cancelled:   strings.EqualFold(propText(comp.Component, ical.PropStatus), "CANCELLED"),
		payload:     payload,
	}, nil
}

func (v vevent) rawEvent(seriesID, externalUID string) provider.RawEvent {
	name := v.name
	if name == "" {
		name = "No Title"
	}
	return provider.RawEvent{
		AccountType: account.ICSFeed,
		ExternalUID: externalUID,
		ETag:        v.etag,
		SeriesID:    seriesID,
		Name:        name,
		Description: v.description,
		Start:       v.start,
		End:         v.end,
		Payload:     v.payload,
	}
}

func recurrenceSet(comp ical.Event, start time.Time, loc *time.Location) (*rrule.Set, error) {
	set := &rrule.Set{}
	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		rule, err := rrule.StrToRRule(prop.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE %q: %w", prop.Value, err)
		}
		rule.DTStart(start)
		set.RRule(rule)
	} else {
		set.RDate(start)
	}
	for _, t := range propTimes(comp, ical.PropRecurrenceDates, loc) {
		set.RDate(t)
	}
	for _, t := range propTimes(comp, ical.PropExceptionDates, loc) {
		set.ExDate(t)
	}
	return set, nil
}

// propTimes reads every date of a possibly repeated, comma separated date list property.
func propTimes(comp ical.Event, name string, loc *time.Location) []time.Time {
	var times []time.Time
	for _, prop := range comp.Props.Values(name) {
		for _, value := range strings.Split(prop.Value, ",") {
			single := prop
			single.Value = strings.TrimSpace(value)
			if single.Value == "" {
				continue
			}
			t, err := single.DateTime(loc)
			if err != nil {
				log.Debugf("ignoring %s value %q: %v", name, single.Value, err)
				continue
			}
			times = append(times, t)
		}
	}
	return times
}

func propText(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

// changeToken digests the properties that change when the organizer edits an event.
func changeToken(comp *ical.Component) string {
	h := sha256.New()
	for _, name := range []string{
		ical.PropSequence,
		ical.PropLastModified,
		ical.PropSummary,
		ical.PropDescription,
		ical.PropDateTimeStart,
		ical.PropDateTimeEnd,
		ical.PropDuration,
		ical.PropRecurrenceRule,
		ical.PropStatus,
	} {
		if prop := comp.Props.Get(name); prop != nil {
			fmt.Fprintf(h, "%s=%s\n", name, prop.Value)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func flattenProps(comp *ical.Component) map[string]string {
	flat := make(map[string]string, len(comp.Props))
	for name, props := range comp.Props {
		if len(props) > 0 {
			flat[name] = props[0].Value
		}
	}
	return flat
}

func overlaps(start, end, from, to time.Time) bool {
	if end.Before(start) {
		end = start
	}
	return end.After(from) && !start.After(to)
}
