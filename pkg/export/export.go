package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/klokku/taskmanager/pkg/event"
)

const productId = "-//task_manager//agenda export//EN"

// localNamespace seeds the UIDs of events that never came from a provider.
var localNamespace = uuid.MustParse("6f1c4a52-0d7e-4b0e-9a4c-3f0f2c8b7d11")

// UID returns the iCalendar UID used for e: its external uid when it has one, otherwise a stable
// uuid derived from the local id.
func UID(e event.Event) string {
	if e.ExternalUID != "" {
		return e.ExternalUID
	}
	return uuid.NewSHA1(localNamespace, []byte(strconv.FormatInt(e.Id, 10))).String()
}

// Calendar builds a VCALENDAR holding one VEVENT per event.
func Calendar(events []event.Event, stamp time.Time) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productId)

	for _, e := range events {
		vevent := cal.AddEvent(UID(e))
		vevent.SetDtStampTime(stamp)
		vevent.SetStartAt(e.Start)
		end := e.End
		if end.Before(e.Start) {
			end = e.Start
		}
		vevent.SetEndAt(end)
		vevent.SetSummary(e.Name)
		if e.Description != "" {
			vevent.SetDescription(e.Description)
		}
		if e.SeriesID != "" {
			vevent.AddProperty(ics.ComponentPropertyRelatedTo, e.SeriesID)
		}
	}
	return cal
}

// Write renders events as an iCalendar document.
func Write(w io.Writer, events []event.Event, stamp time.Time) error {
	if _, err := io.WriteString(w, Calendar(events, stamp).Serialize()); err != nil {
		return fmt.Errorf("failed to write calendar: %w", err)
	}
	return nil
}
