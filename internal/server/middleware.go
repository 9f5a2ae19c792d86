package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPRecorder receives one measurement per request.
type HTTPRecorder interface {
	RecordHTTPRequest(ctx context.Context, method string, route string, status int, took time.Duration)
}

// logging logs each request and feeds the recorder, labelled by the chi
// route pattern so job ids do not explode label cardinality.
func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		log := s.log.With(
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", took,
			"request_id", middleware.GetReqID(r.Context()),
		)
		if status >= 500 {
			log.Error("request failed")
		} else {
			log.Debug("request")
		}
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, status, took)
		}
	})
}
