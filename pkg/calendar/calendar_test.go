package calendar

import (
	"math/rand"
	"testing"
	"time"

	"github.com/klokku/taskmanager/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nineOClock = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newEvent(id int64, start, end time.Time) event.Event {
	return event.Event{Id: id, Name: "event", Start: start, End: end}
}

func ids(events []event.Event) []int64 {
	result := make([]int64, 0, len(events))
	for _, e := range events {
		result = append(result, e.Id)
	}
	return result
}

func TestClassify(t *testing.T) {
	start := nineOClock
	end := nineOClock.Add(time.Hour)

	tests := []struct {
		name string
		at   time.Time
		want Bucket
	}{
		{"during", time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC), Ongoing},
		{"next day", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Past},
		{"day before", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), Future},
		{"at start", start, Ongoing},
		{"at end", end, Ongoing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(start, end, tt.at))
		})
	}
}

func TestClassify_InvertedRangeIsZeroLengthAtStart(t *testing.T) {
	start := nineOClock
	end := nineOClock.Add(-time.Hour)

	assert.Equal(t, Future, Classify(start, end, nineOClock.Add(-time.Minute)))
	assert.Equal(t, Ongoing, Classify(start, end, nineOClock))
	assert.Equal(t, Past, Classify(start, end, nineOClock.Add(time.Minute)))
}

func TestCalendar_AddAndRemove(t *testing.T) {
	// given
	c := New()
	now := nineOClock.Add(30 * time.Minute)

	// when
	assert.Equal(t, Past, c.Add(newEvent(1, nineOClock.Add(-2*time.Hour), nineOClock.Add(-time.Hour)), now))
	assert.Equal(t, Ongoing, c.Add(newEvent(2, nineOClock, nineOClock.Add(time.Hour)), now))
	assert.Equal(t, Future, c.Add(newEvent(3, nineOClock.Add(2*time.Hour), nineOClock.Add(3*time.Hour)), now))

	// then
	assert.Equal(t, []int64{1}, ids(c.Past()))
	assert.Equal(t, []int64{2}, ids(c.Ongoing()))
	assert.Equal(t, []int64{3}, ids(c.Future()))
	assert.Equal(t, []int64{1, 2, 3}, ids(c.All()))

	assert.True(t, c.Remove(2))
	assert.False(t, c.Remove(2))
	assert.Empty(t, c.Ongoing())
	assert.Equal(t, []int64{1, 3}, ids(c.All()))
	_, found := c.BucketOf(2)
	assert.False(t, found)
}

func TestCalendar_AddReplacesExistingId(t *testing.T) {
	c := New()
	now := nineOClock
	c.Add(newEvent(1, nineOClock.Add(time.Hour), nineOClock.Add(2*time.Hour)), now)

	c.Add(newEvent(1, nineOClock.Add(-2*time.Hour), nineOClock.Add(-time.Hour)), now)

	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.Future())
	assert.Equal(t, []int64{1}, ids(c.Past()))
}

func TestCalendar_AddKeepsReferenceInstant(t *testing.T) {
	// given
	c := New()
	c.Replace([]event.Event{newEvent(1, nineOClock, nineOClock.Add(time.Hour))}, nineOClock.Add(30*time.Minute))

	// when
	bucket := c.Add(newEvent(2, nineOClock.Add(2*time.Hour), nineOClock.Add(3*time.Hour)), nineOClock.Add(4*time.Hour))

	// then
	assert.Equal(t, Past, bucket)
	assert.True(t, c.Now().Equal(nineOClock.Add(30*time.Minute)))
	assert.Equal(t, []int64{1}, ids(c.Ongoing()))
}

func TestCalendar_ReclassifyFollowsTimeInBothDirections(t *testing.T) {
	// given
	c := New()
	c.Replace([]event.Event{newEvent(1, nineOClock, nineOClock.Add(time.Hour))}, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
	require.Equal(t, []int64{1}, ids(c.Future()))

	// when / then
	assert.Equal(t, 1, c.Reclassify(time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)))
	assert.Equal(t, []int64{1}, ids(c.Ongoing()))

	assert.Equal(t, 1, c.Reclassify(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []int64{1}, ids(c.Past()))

	// backwards, straight from past to future
	assert.Equal(t, 1, c.Reclassify(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []int64{1}, ids(c.Future()))

	assert.Equal(t, 0, c.Reclassify(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestCalendar_ReclassifyMatchesRebuild(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := nineOClock
	randomInstant := func() time.Time {
		return base.Add(time.Duration(rng.Intn(72*60)-36*60) * time.Minute)
	}

	for round := 0; round < 50; round++ {
		// given
		events := make([]event.Event, 0, 40)
		for i := int64(1); i <= 40; i++ {
			start := randomInstant()
			end := start.Add(time.Duration(rng.Intn(240)-20) * time.Minute) // some inverted ranges
			events = append(events, newEvent(i, start, end))
		}
		incremental := New()
		incremental.Replace(events, randomInstant())

		// when
		var target time.Time
		for step := 0; step < 5; step++ {
			target = randomInstant()
			incremental.Reclassify(target)
		}
		rebuilt := New()
		rebuilt.Replace(events, target)

		// then
		for _, b := range []Bucket{Past, Ongoing, Future} {
			assert.Equal(t, ids(rebuilt.Bucket(b)), ids(incremental.Bucket(b)), "round %d bucket %s", round, b)
		}
		assertPartitionsCover(t, incremental)
	}
}

func TestCalendar_PartitionsAreDisjointAndExhaustive(t *testing.T) {
	c := New()
	now := nineOClock
	c.Rebuild(now)
	for i := int64(1); i <= 10; i++ {
		start := nineOClock.Add(time.Duration(i-5) * time.Hour)
		c.Add(newEvent(i, start, start.Add(90*time.Minute)), now)
	}
	assertPartitionsCover(t, c)

	c.Reclassify(now.Add(3 * time.Hour))
	assertPartitionsCover(t, c)

	c.Remove(4)
	c.Rebuild(now.Add(-3 * time.Hour))
	assertPartitionsCover(t, c)
}

func assertPartitionsCover(t *testing.T, c *Calendar) {
	t.Helper()
	seen := make(map[int64]int)
	for _, b := range []Bucket{Past, Ongoing, Future} {
		for _, e := range c.Bucket(b) {
			seen[e.Id]++
			assert.Equal(t, Classify(e.Start, e.End, c.Now()), b)
		}
	}
	assert.Len(t, seen, c.Len())
	for id, count := range seen {
		assert.Equal(t, 1, count, "event %d", id)
	}
}

func TestParseBucket(t *testing.T) {
	b, err := ParseBucket("ongoing")
	require.NoError(t, err)
	assert.Equal(t, Ongoing, b)

	_, err = ParseBucket("someday")
	assert.Error(t, err)
}
