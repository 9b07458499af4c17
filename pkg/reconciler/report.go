package reconciler

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAccountHasNoProvider     = errors.New("account has no provider")
	ErrFetchFailed              = errors.New("fetching events failed")
	ErrEventTypeUnsupported     = errors.New("event type is not supported")
	ErrCreateFailed             = errors.New("creating event failed")
	ErrUpdateFailed             = errors.New("updating event failed")
	ErrDeleteOldInstancesFailed = errors.New("deleting old recurring instances failed")
)

// AccountResult describes what happened to one account during a pass.
type AccountResult struct {
	AccountId        int64
	Email            string
	Fetched          int
	RemovedInstances int64
	Skipped          bool
	Err              error
}

// Report is the outcome of one reconciliation pass. Success is the logical AND of every step.
type Report struct {
	PassId    string
	Success   bool
	Accounts  []AccountResult
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Duration  time.Duration

	errs []error
}

func newReport(passId string) *Report {
	return &Report{PassId: passId, Success: true}
}

func (r *Report) fail(err error) {
	r.Success = false
	r.errs = append(r.errs, err)
}

// Failures is the number of failed steps.
func (r *Report) Failures() int {
	return len(r.errs)
}

// Err joins every failure of the pass, nil when it succeeded.
func (r *Report) Err() error {
	return errors.Join(r.errs...)
}

func (r *Report) SyncedAccounts() int {
	synced := 0
	for _, a := range r.Accounts {
		if !a.Skipped && a.Err == nil {
			synced++
		}
	}
	return synced
}

func (r *Report) String() string {
	status := "succeeded"
	if !r.Success {
		status = "finished with failures"
	}
	return fmt.Sprintf("sync %s %s: %d account(s), %d created, %d updated, %d unchanged, %d failure(s) in %s",
		r.PassId, status, r.SyncedAccounts(), r.Created, r.Updated, r.Unchanged, r.Failures(), r.Duration.Round(time.Millisecond))
}
