package event_bus

import "time"

const (
	SyncCompletedType EventType = "sync.completed"
	EventCreatedType  EventType = "event.created"
	EventUpdatedType  EventType = "event.updated"
	EventRemovedType  EventType = "event.removed"
)

// SyncCompleted is published at the end of every reconciliation pass.
type SyncCompleted struct {
	PassId   string
	Success  bool
	Accounts int
	Created  int
	Updated  int
	Failures int
	Duration time.Duration
}

type EventCreated struct {
	Id        int64
	Name      string
	StartTime time.Time
	EndTime   time.Time
	AccountId int64
}

type EventUpdated struct {
	Id   int64
	Name string
}

type EventRemoved struct {
	Id int64
}
