package reconciler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/klokku/taskmanager/internal/event_bus"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/provider"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	// MaxResults bounds the page size requested from every provider.
	MaxResults int
	// StoreOccurrences makes newly created series primaries keep their raw occurrences.
	StoreOccurrences bool
}

// Reconciler brings the local event store in line with what every linked account's provider reports.
// It is not safe for concurrent use; callers serialize passes with local mutations.
type Reconciler struct {
	accounts  account.Repository
	events    event.Repository
	providers *provider.Registry
	calendar  *calendar.Calendar
	bus       *event_bus.EventBus
	clock     utils.Clock
	options   Options
	// mergeable lists the account types whose raw events have a create/update policy.
	mergeable map[account.Type]bool
}

func New(
	accounts account.Repository,
	events event.Repository,
	providers *provider.Registry,
	cal *calendar.Calendar,
	bus *event_bus.EventBus,
	clock utils.Clock,
	options Options,
) *Reconciler {
	return &Reconciler{
		accounts:  accounts,
		events:    events,
		providers: providers,
		calendar:  cal,
		bus:       bus,
		clock:     clock,
		options:   options,
		mergeable: map[account.Type]bool{
			account.GoogleCalendar: true,
			account.ICSFeed:        true,
		},
	}
}

type queuedEvent struct {
	raw       provider.RawEvent
	accountId int64
}

// SyncAllAccounts runs one pass over every account. It never stops at the first failure;
// the returned report says what failed.
func (r *Reconciler) SyncAllAccounts(ctx context.Context) *Report {
	started := r.clock.Now()
	report := newReport(uuid.NewString())
	logger := log.WithField("sync", report.PassId)
	logger.Info("starting sync of all accounts")

	queue := r.fetchAll(ctx, report)
	r.merge(ctx, queue, report)

	now := r.clock.Now()
	all, err := r.events.GetAll(ctx)
	if err != nil {
		report.fail(fmt.Errorf("reloading events after sync: %w", err))
		r.calendar.Rebuild(now)
	} else {
		r.calendar.Replace(all, now)
	}
	report.Duration = now.Sub(started)

	if report.Success {
		logger.Info(report.String())
	} else {
		logger.Warn(report.String())
	}
	r.publish(ctx, report)
	return report
}

func (r *Reconciler) fetchAll(ctx context.Context, report *Report) []queuedEvent {
	accounts, err := r.accounts.GetAll(ctx)
	if err != nil {
		report.fail(fmt.Errorf("listing accounts: %w", err))
		return nil
	}

	var queue []queuedEvent
	for _, acc := range accounts {
		result, fetched := r.fetchAccount(ctx, acc, report)
		report.Accounts = append(report.Accounts, result)
		for _, raw := range fetched {
			queue = append(queue, queuedEvent{raw: raw, accountId: acc.Id})
		}
	}
	return queue
}

func (r *Reconciler) fetchAccount(ctx context.Context, acc account.Account, report *Report) (AccountResult, []provider.RawEvent) {
	result := AccountResult{AccountId: acc.Id, Email: acc.Email}
	logger := log.WithFields(log.Fields{"sync": report.PassId, "account": acc.Id, "type": acc.Type.String()})

	if acc.Type == account.Local {
		result.Skipped = true
		return result, nil
	}

	client, err := r.providers.ClientFor(acc)
	if err != nil {
		err := fmt.Errorf("%w: account %d (%s): %w", ErrAccountHasNoProvider, acc.Id, acc.Email, err)
		logger.Errorf("%v. Trying to continue", err)
		result.Err = err
		report.fail(err)
		return result, nil
	}
	defer client.Clear()

	removed, err := r.events.RemoveSeriesInstances(ctx, acc.Id)
	if err != nil {
		err := fmt.Errorf("%w: account %d: %w", ErrDeleteOldInstancesFailed, acc.Id, err)
		logger.Errorf("%v. Trying to continue", err)
		report.fail(err)
	}
	result.RemovedInstances = removed
	logger.Debugf("removed %d recurring instances before fetch", removed)

	fetched, err := client.ListEvents(ctx, r.options.MaxResults, acc.RefreshToken)
	if err != nil {
		err := fmt.Errorf("%w: account %d (%s): %w", ErrFetchFailed, acc.Id, acc.Email, err)
		logger.Errorf("%v. Trying to continue", err)
		result.Err = err
		report.fail(err)
		return result, nil
	}
	result.Fetched = len(fetched)

	if token := client.CurrentRefreshToken(); token != "" {
		acc.RefreshToken = token
		if err := r.accounts.Update(ctx, acc); err != nil {
			err := fmt.Errorf("%w: refresh token of account %d: %w", ErrUpdateFailed, acc.Id, err)
			logger.Errorf("%v. Trying to continue", err)
			report.fail(err)
		}
	}

	logger.Debugf("fetched %d events", len(fetched))
	return result, fetched
}

// primary tracks a series primary during a merge. Primaries are written once, after all queued events were seen.
type primary struct {
	event    event.Event
	isNew    bool
	anchored bool
	dirty    bool
}

func (r *Reconciler) merge(ctx context.Context, queue []queuedEvent, report *Report) {
	local, err := r.events.GetAll(ctx)
	if err != nil {
		report.fail(fmt.Errorf("loading local events for merge: %w", err))
		return
	}

	singlesByExternalUID := make(map[string]event.Event)
	seriesByRecurringId := make(map[string]*primary)
	var seriesOrder []string
	for _, e := range local {
		switch {
		case e.IsSeriesPrimary():
			if _, exists := seriesByRecurringId[e.SeriesID]; exists {
				continue
			}
			hadOccurrences := len(e.Occurrences) > 0
			e.ClearOccurrences()
			seriesByRecurringId[e.SeriesID] = &primary{event: e, dirty: hadOccurrences && e.StoreOccurrences}
			seriesOrder = append(seriesOrder, e.SeriesID)
		case e.IsSingle():
			singlesByExternalUID[e.ExternalUID] = e
		}
	}

	for _, queued := range queue {
		raw := queued.raw
		logger := log.WithFields(log.Fields{
			"sync":        report.PassId,
			"account":     queued.accountId,
			"externalUid": raw.ExternalUID,
			"seriesId":    raw.SeriesID,
		})

		if !r.mergeable[raw.AccountType] {
			err := fmt.Errorf("%w: %s event %s", ErrEventTypeUnsupported, raw.AccountType, raw.ExternalUID)
			logger.Errorf("%v. Trying to continue", err)
			report.fail(err)
			continue
		}
		if raw.ExternalUID == "" || raw.Start.IsZero() {
			logger.Warn("skipping provider event without id or start")
			report.Skipped++
			continue
		}

		if raw.IsRecurring() {
			p, exists := seriesByRecurringId[raw.SeriesID]
			if !exists {
				p = &primary{event: newEventFrom(raw, queued.accountId, r.options.StoreOccurrences), isNew: true, anchored: true}
				seriesByRecurringId[raw.SeriesID] = p
				seriesOrder = append(seriesOrder, raw.SeriesID)
			} else if !p.anchored {
				p.event.Name = raw.Name
				p.event.Start = raw.Start
				p.event.End = raw.End
				p.event.ETag = raw.ETag
				p.event.SeriesID = raw.SeriesID
				p.event.Raw = raw.Payload
				p.anchored = true
				p.dirty = true
			}
			if p.event.AddOccurrence(raw.Occurrence()) {
				p.dirty = true
			}
			continue
		}

		existing, exists := singlesByExternalUID[raw.ExternalUID]
		if !exists {
			created := newEventFrom(raw, queued.accountId, false)
			id, err := r.events.Insert(ctx, created)
			if err != nil {
				err := fmt.Errorf("%w: %s: %w", ErrCreateFailed, raw.ExternalUID, err)
				logger.Errorf("%v. Trying to continue", err)
				report.fail(err)
				continue
			}
			created.Id = id
			singlesByExternalUID[raw.ExternalUID] = created
			report.Created++
			continue
		}

		if existing.ETag != "" && existing.ETag == raw.ETag {
			report.Unchanged++
			continue
		}
		// the description is left alone; it may have been edited locally
		existing.Name = raw.Name
		existing.Start = raw.Start
		existing.End = raw.End
		existing.ETag = raw.ETag
		existing.SeriesID = ""
		existing.Raw = raw.Payload
		if err := r.events.Update(ctx, existing); err != nil {
			err := fmt.Errorf("%w: %s: %w", ErrUpdateFailed, raw.ExternalUID, err)
			logger.Errorf("%v. Trying to continue", err)
			report.fail(err)
			continue
		}
		singlesByExternalUID[raw.ExternalUID] = existing
		report.Updated++
	}

	for _, seriesId := range seriesOrder {
		r.persistPrimary(ctx, seriesByRecurringId[seriesId], report)
	}
}

func (r *Reconciler) persistPrimary(ctx context.Context, p *primary, report *Report) {
	logger := log.WithFields(log.Fields{"sync": report.PassId, "seriesId": p.event.SeriesID})
	if p.isNew {
		id, err := r.events.Insert(ctx, p.event)
		if err != nil {
			err := fmt.Errorf("%w: primary of series %s: %w", ErrCreateFailed, p.event.SeriesID, err)
			logger.Errorf("%v. Trying to continue", err)
			report.fail(err)
			return
		}
		p.event.Id = id
		report.Created++
		return
	}
	if !p.dirty {
		return
	}
	if err := r.events.Update(ctx, p.event); err != nil {
		err := fmt.Errorf("%w: primary of series %s: %w", ErrUpdateFailed, p.event.SeriesID, err)
		logger.Errorf("%v. Trying to continue", err)
		report.fail(err)
		return
	}
	report.Updated++
}

func (r *Reconciler) publish(ctx context.Context, report *Report) {
	if r.bus == nil {
		return
	}
	err := r.bus.Publish(event_bus.NewEvent(ctx, event_bus.SyncCompletedType, event_bus.SyncCompleted{
		PassId:   report.PassId,
		Success:  report.Success,
		Accounts: report.SyncedAccounts(),
		Created:  report.Created,
		Updated:  report.Updated,
		Failures: report.Failures(),
		Duration: report.Duration,
	}))
	if err != nil {
		log.Errorf("failed to publish sync result: %v", err)
	}
}

func newEventFrom(raw provider.RawEvent, accountId int64, storeOccurrences bool) event.Event {
	return event.Event{
		ExternalUID:      raw.ExternalUID,
		ETag:             raw.ETag,
		SeriesID:         raw.SeriesID,
		Name:             raw.Name,
		Description:      raw.Description,
		Start:            raw.Start,
		End:              raw.End,
		AccountId:        event.AccountRef(accountId),
		Raw:              raw.Payload,
		StoreOccurrences: storeOccurrences,
	}
}
