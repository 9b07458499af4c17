package calendar

import (
	"fmt"
	"time"

	"github.com/klokku/taskmanager/pkg/event"
)

// Bucket is one of the three temporal partitions.
type Bucket int

const (
	Past Bucket = iota
	Ongoing
	Future
)

func (b Bucket) String() string {
	switch b {
	case Past:
		return "past"
	case Ongoing:
		return "ongoing"
	case Future:
		return "future"
	}
	return fmt.Sprintf("Bucket(%d)", int(b))
}

func ParseBucket(s string) (Bucket, error) {
	for _, b := range []Bucket{Past, Ongoing, Future} {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown bucket %q", s)
}

// Classify places an event spanning [start, end] relative to t. An inverted range is treated as a zero-length
// event at start.
func Classify(start, end, t time.Time) Bucket {
	if end.Before(start) {
		end = start
	}
	if end.Before(t) {
		return Past
	}
	if start.After(t) {
		return Future
	}
	return Ongoing
}

// transitions lists every ordered pair of distinct buckets. Time may move in either direction,
// so Reclassify checks all of them.
var transitions = [6][2]Bucket{
	{Past, Future},
	{Past, Ongoing},
	{Ongoing, Past},
	{Ongoing, Future},
	{Future, Past},
	{Future, Ongoing},
}

// Calendar holds the in-memory event set and its past, ongoing and future partitions.
// Partitions store event ids. Calendar is not safe for concurrent use.
type Calendar struct {
	events     map[int64]event.Event
	order      []int64
	partitions [3]map[int64]struct{}
	now        time.Time
}

func New() *Calendar {
	c := &Calendar{events: make(map[int64]event.Event)}
	c.clearPartitions()
	return c
}

// Now is the reference instant of the last Replace, Rebuild or Reclassify. Add does not move it.
func (c *Calendar) Now() time.Time {
	return c.now
}

func (c *Calendar) Len() int {
	return len(c.order)
}

// Replace swaps the whole event set and rebuilds the partitions at now.
func (c *Calendar) Replace(events []event.Event, now time.Time) {
	c.events = make(map[int64]event.Event, len(events))
	c.order = make([]int64, 0, len(events))
	for _, e := range events {
		if _, exists := c.events[e.Id]; !exists {
			c.order = append(c.order, e.Id)
		}
		c.events[e.Id] = e
	}
	c.Rebuild(now)
}

// Rebuild clears the partitions and classifies every event from scratch.
func (c *Calendar) Rebuild(now time.Time) {
	c.now = now
	c.clearPartitions()
	for _, id := range c.order {
		e := c.events[id]
		c.partitions[Classify(e.Start, e.End, now)][id] = struct{}{}
	}
}

// Reclassify moves only the events whose bucket changed since the previous reference instant and returns how
// many moved. The event set is assumed unchanged; the result equals Rebuild(now).
func (c *Calendar) Reclassify(now time.Time) int {
	c.now = now
	moved := 0
	for _, transition := range transitions {
		from, to := transition[0], transition[1]
		var moving []int64
		for id := range c.partitions[from] {
			e := c.events[id]
			if Classify(e.Start, e.End, now) == to {
				moving = append(moving, id)
			}
		}
		for _, id := range moving {
			delete(c.partitions[from], id)
			c.partitions[to][id] = struct{}{}
		}
		moved += len(moving)
	}
	return moved
}

// Add inserts e into the set and into exactly one partition at now. An event with the same id is replaced.
// The reference instant of the other events is not changed.
func (c *Calendar) Add(e event.Event, now time.Time) Bucket {
	if _, exists := c.events[e.Id]; exists {
		c.dropFromPartitions(e.Id)
	} else {
		c.order = append(c.order, e.Id)
	}
	c.events[e.Id] = e
	bucket := Classify(e.Start, e.End, now)
	c.partitions[bucket][e.Id] = struct{}{}
	return bucket
}

// Remove erases the event from the set and from whichever partition holds it.
func (c *Calendar) Remove(id int64) bool {
	if _, exists := c.events[id]; !exists {
		return false
	}
	delete(c.events, id)
	c.dropFromPartitions(id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *Calendar) Get(id int64) (event.Event, bool) {
	e, ok := c.events[id]
	return e, ok
}

// BucketOf reports the partition currently holding the event.
func (c *Calendar) BucketOf(id int64) (Bucket, bool) {
	for _, b := range []Bucket{Past, Ongoing, Future} {
		if _, ok := c.partitions[b][id]; ok {
			return b, true
		}
	}
	return 0, false
}

// All returns every event in insertion order.
func (c *Calendar) All() []event.Event {
	events := make([]event.Event, 0, len(c.order))
	for _, id := range c.order {
		events = append(events, c.events[id])
	}
	return events
}

func (c *Calendar) Past() []event.Event {
	return c.Bucket(Past)
}

func (c *Calendar) Ongoing() []event.Event {
	return c.Bucket(Ongoing)
}

func (c *Calendar) Future() []event.Event {
	return c.Bucket(Future)
}

// Bucket returns the members of b in insertion order.
func (c *Calendar) Bucket(b Bucket) []event.Event {
	events := make([]event.Event, 0, len(c.partitions[b]))
	for _, id := range c.order {
		if _, ok := c.partitions[b][id]; ok {
			events = append(events, c.events[id])
		}
	}
	return events
}

func (c *Calendar) clearPartitions() {
	for i := range c.partitions {
		c.partitions[i] = make(map[int64]struct{})
	}
}

func (c *Calendar) dropFromPartitions(id int64) {
	for i := range c.partitions {
		delete(c.partitions[i], id)
	}
}
