package httpapi

import (
	"log"
	"net/http"
	"time"
)

// pollPaths are hit every second by the door device. They are only
// logged when something went wrong.
var pollPaths = map[string]bool{
	"/v1/commands/next":   true,
	"/get_mobile_command": true,
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if pollPaths[r.URL.Path] && rec.status < http.StatusBadRequest {
			return
		}
		if id := r.Header.Get("X-Request-ID"); id != "" {
			logger.Printf("%s %s status=%d from=%s req=%s dur=%s", r.Method, r.URL.Path, rec.status, r.RemoteAddr, id, time.Since(start))
			return
		}
		logger.Printf("%s %s status=%d from=%s dur=%s", r.Method, r.URL.Path, rec.status, r.RemoteAddr, time.Since(start))
	})
}

func recoverMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Printf("panic serving %s %s: %v", r.Method, r.URL.Path, v)
				writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
