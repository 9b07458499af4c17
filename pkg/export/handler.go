package export

import (
	"net/http"

	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/event"
	log "github.com/sirupsen/logrus"
)

type EventLister interface {
	ListEvents() []event.Event
}

type Handler struct {
	events EventLister
	clock  utils.Clock
}

func NewHandler(events EventLister, clock utils.Clock) *Handler {
	return &Handler{events: events, clock: clock}
}

// GetCalendar serves every known event as text/calendar.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="task_manager.ics"`)
	if err := Write(w, h.events.ListEvents(), h.clock.Now()); err != nil {
		log.Error(err)
	}
}
