package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Occurrence is one raw instance of a recurring series, attached to the series primary.
type Occurrence struct {
	ExternalUID string          `json:"externalUid"`
	ETag        string          `json:"etag,omitempty"`
	Name        string          `json:"name"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type Event struct {
	Id          int64
	ExternalUID string
	ETag        string
	SeriesID    string
	Name        string
	Description string
	Start       time.Time
	End         time.Time
	// Ongoing is toggled by the user; it is not derived from Start and End.
	Ongoing bool
	// AccountId is nil for events that belong to no account.
	AccountId *int64
	// Raw is the provider payload that created or last updated the event.
	Raw              json.RawMessage
	StoreOccurrences bool
	Occurrences      []Occurrence
}

// IsSingle reports whether e is a non-recurring event known to a provider.
func (e Event) IsSingle() bool {
	return e.ExternalUID != "" && e.SeriesID == ""
}

func (e Event) IsSeriesPrimary() bool {
	return e.SeriesID != ""
}

func (e Event) BelongsTo(accountId int64) bool {
	return e.AccountId != nil && *e.AccountId == accountId
}

// AddOccurrence attaches o when the event keeps occurrence history and reports whether it did.
func (e *Event) AddOccurrence(o Occurrence) bool {
	if !e.StoreOccurrences {
		return false
	}
	e.Occurrences = append(e.Occurrences, o)
	return true
}

func (e *Event) ClearOccurrences() {
	if e.StoreOccurrences {
		e.Occurrences = nil
	}
}

func (e Event) String() string {
	return fmt.Sprintf("ID: %d\nName: %s\nDescription: %s\nStart: %s\nEnd: %s\nOngoing: %t\n",
		e.Id, e.Name, e.Description, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Ongoing)
}

func AccountRef(id int64) *int64 {
	return &id
}
