package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klokku/taskmanager/internal/rest"
	log "github.com/sirupsen/logrus"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// SetupMiddleware wires all HTTP middlewares for the application.
func SetupMiddleware(r *mux.Router) {

	// Turn handler panics into 500 responses
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					log.Errorf("panic while handling %s %s: %v", req.Method, req.URL.Path, p)
					rest.WriteError(w, http.StatusInternalServerError, "Internal error", "")
				}
			}()
			next.ServeHTTP(w, req)
		})
	})

	// Request log
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)
			log.WithFields(log.Fields{
				"method":   req.Method,
				"path":     req.URL.Path,
				"status":   rec.status,
				"duration": time.Since(started).Round(time.Microsecond),
			}).Debug("handled request")
		})
	})
}
