package utils

import "time"

// Clock supplies the reference instant used to classify events.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (s SystemClock) Now() time.Time {
	return time.Now()
}

type MockClock struct {
	FixedNow time.Time
}

func (m *MockClock) Now() time.Time {
	return m.FixedNow
}

func (m *MockClock) SetNow(now time.Time) {
	m.FixedNow = now
}

// Advance moves the mock clock by d, which may be negative.
func (m *MockClock) Advance(d time.Duration) time.Time {
	m.FixedNow = m.FixedNow.Add(d)
	return m.FixedNow
}
