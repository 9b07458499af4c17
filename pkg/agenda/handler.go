package agenda

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/taskmanager/internal/rest"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/reconciler"
	log "github.com/sirupsen/logrus"
)

type Handler struct {
	agenda *Service
}

type EventDTO struct {
	Id          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Ongoing     bool      `json:"ongoing"`
	ExternalUID string    `json:"externalUid,omitempty"`
	SeriesID    string    `json:"seriesId,omitempty"`
	AccountId   *int64    `json:"accountId,omitempty"`
	Occurrences int       `json:"occurrences,omitempty"`
}

type updateEventDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Ongoing     *bool  `json:"ongoing,omitempty"`
}

type SyncResultDTO struct {
	PassId    string   `json:"passId"`
	Success   bool     `json:"success"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Failures  int      `json:"failures"`
	Errors    []string `json:"errors,omitempty"`
}

func NewHandler(s *Service) *Handler {
	return &Handler{s}
}

// GetEvents lists every event, or the events of one month when year and month are given.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("year") == "" && query.Get("month") == "" {
		rest.WriteJSON(w, http.StatusOK, toDTOs(h.agenda.ListEvents()))
		return
	}

	year, err := strconv.Atoi(query.Get("year"))
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid year", "'year' must be a number")
		return
	}
	month, err := strconv.Atoi(query.Get("month"))
	if err != nil || month < 1 || month > 12 {
		rest.WriteError(w, http.StatusBadRequest, "Invalid month", "'month' must be a number between 1 and 12")
		return
	}
	loc := time.Local
	if tz := query.Get("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			rest.WriteError(w, http.StatusBadRequest, "Invalid time zone", err.Error())
			return
		}
	}
	rest.WriteJSON(w, http.StatusOK, toDTOs(h.agenda.EventsForMonth(year, time.Month(month), loc)))
}

func (h *Handler) GetBucket(w http.ResponseWriter, r *http.Request) {
	bucket, err := calendar.ParseBucket(mux.Vars(r)["bucket"])
	if err != nil {
		rest.WriteError(w, http.StatusNotFound, "Unknown bucket", err.Error())
		return
	}
	rest.WriteJSON(w, http.StatusOK, toDTOs(h.agenda.Bucket(bucket)))
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var dto EventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid event", err.Error())
		return
	}

	now := h.agenda.Now()
	if dto.Start.IsZero() {
		dto.Start = now
	}
	if dto.End.IsZero() {
		dto.End = dto.Start.Add(time.Hour)
	}
	created, err := h.agenda.CreateEvent(r.Context(), event.Event{
		Name:        dto.Name,
		Description: dto.Description,
		Start:       dto.Start,
		End:         dto.End,
		Ongoing:     dto.Ongoing,
	}, now)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, toDTO(created))
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventId(w, r)
	if !ok {
		return
	}
	var dto updateEventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid event", err.Error())
		return
	}

	changes := EventChanges{Ongoing: dto.Ongoing}
	if dto.Name != "" || dto.Ongoing == nil {
		changes.Name = &dto.Name
		changes.Description = &dto.Description
	}
	updated, err := h.agenda.EditEvent(r.Context(), id, changes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, toDTO(updated))
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventId(w, r)
	if !ok {
		return
	}
	if err := h.agenda.RemoveEventById(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync runs a reconciliation pass and answers with its outcome. A pass with failures still answers 200.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	report := h.agenda.SyncAllAccounts(r.Context())
	rest.WriteJSON(w, http.StatusOK, ToSyncResultDTO(report))
}

func ToSyncResultDTO(report *reconciler.Report) SyncResultDTO {
	dto := SyncResultDTO{
		PassId:    report.PassId,
		Success:   report.Success,
		Created:   report.Created,
		Updated:   report.Updated,
		Unchanged: report.Unchanged,
		Failures:  report.Failures(),
	}
	if err := report.Err(); err != nil {
		for _, e := range unwrapAll(err) {
			dto.Errors = append(dto.Errors, e.Error())
		}
	}
	return dto
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, event.ErrEventNotFound):
		rest.WriteError(w, http.StatusNotFound, "Event not found", "")
	case errors.Is(err, ErrInvalidTimeRange), errors.Is(err, ErrEmptyName):
		rest.WriteError(w, http.StatusBadRequest, "Invalid event", err.Error())
	default:
		log.Error(err)
		rest.WriteError(w, http.StatusInternalServerError, "Failed to handle event", err.Error())
	}
}

func eventId(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid event id", err.Error())
		return 0, false
	}
	return id, true
}

func unwrapAll(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

func toDTO(e event.Event) EventDTO {
	return EventDTO{
		Id:          e.Id,
		Name:        e.Name,
		Description: e.Description,
		Start:       e.Start,
		End:         e.End,
		Ongoing:     e.Ongoing,
		ExternalUID: e.ExternalUID,
		SeriesID:    e.SeriesID,
		AccountId:   e.AccountId,
		Occurrences: len(e.Occurrences),
	}
}

func toDTOs(events []event.Event) []EventDTO {
	dtos := make([]EventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toDTO(e))
	}
	return dtos
}
