package web

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error      string        `json:"error"`
	Message    string        `json:"message,omitempty"`
	Details    []*FieldError `json:"details,omitempty"`
	RequestId  string        `json:"requestId,omitempty"`
	Path       string        `json:"path,omitempty"`
	RetryAfter int           `json:"retryAfter,omitempty"`
}

func respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusNotFound, errorBody{Error: "Route not found", Path: r.URL.RequestURI()})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next.ServeHTTP(w, r)
	})
}

func recoverer(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithField("path", r.URL.Path).Errorf("panic while serving request: %v", rec)
				respond(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Message: "Something went wrong"})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
