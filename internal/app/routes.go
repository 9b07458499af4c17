package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Events
	r.HandleFunc("/api/events", deps.AgendaHandler.GetEvents).Methods("GET")
	r.HandleFunc("/api/events", deps.AgendaHandler.CreateEvent).Methods("POST")
	r.HandleFunc("/api/events/{bucket}", deps.AgendaHandler.GetBucket).Methods("GET")
	r.HandleFunc("/api/events/{id}", deps.AgendaHandler.UpdateEvent).Methods("PUT")
	r.HandleFunc("/api/events/{id}", deps.AgendaHandler.DeleteEvent).Methods("DELETE")

	// Synchronization
	r.HandleFunc("/api/sync", deps.AgendaHandler.Sync).Methods("POST")

	// Export
	r.HandleFunc("/api/export.ics", deps.ExportHandler.GetCalendar).Methods("GET")
}
