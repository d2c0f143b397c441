package restsvc

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// HeaderRequestID — заголовок с идентификатором запроса.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLength = 128

// requestID прокидывает X-Request-ID клиента или генерирует новый.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		r.Header.Set(HeaderRequestID, id)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// instrument пишет access-лог и метрики по шаблону маршрута chi.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.metrics.Started()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			duration := time.Since(started)
			h.metrics.Finished(route, r.Method, status, duration)

			entry := h.logger.WithFields(log.Fields{
				"request_id":  r.Header.Get(HeaderRequestID),
				"method":      r.Method,
				"route":       route,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": duration.Milliseconds(),
			})
			switch {
			case status >= http.StatusInternalServerError:
				entry.Error("request failed")
			case status >= http.StatusBadRequest:
				entry.Info("request rejected")
			default:
				entry.Debug("request served")
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
