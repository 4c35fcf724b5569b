package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/refitt/refitt-sub002/auth"
	"github.com/refitt/refitt-sub002/logger"
	"github.com/refitt/refitt-sub002/response"
	"github.com/refitt/refitt-sub002/session"
)

const requestIDHeader = "X-Request-Id"

// NewRouter mounts the token endpoints.
//
//	GET|POST /token            key:secret via HTTP Basic
//	GET      /token/{user_id}  bearer token with administrator level
//	GET      /health
func NewRouter(issuer TokenIssuer, sessions *session.Manager) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.Handle("/token", NewTokenHandler(issuer)).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/token/{user_id}", sessions.RequireLevel(auth.AdminLevel, NewUserTokenHandler(issuer))).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, response.NewError(http.StatusNotFound, "Not found: %s", r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, response.NewError(http.StatusMethodNotAllowed, "Method not allowed: %s", r.Method))
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		logger.Debug("request started %s %s %s", requestID, r.Method, r.URL.Path)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info("%s %s %d %s (%s)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond), requestID)
	})
}
