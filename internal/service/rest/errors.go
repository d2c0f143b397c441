package restsvc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vladislavdragonenkov/fulfillment/internal/api"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// writeError переводит ошибку сервиса в HTTP-ответ. notFound задаёт текст для 404.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	status, message := classifyError(err, notFound)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request handling failed")
	}
	writeJSON(w, status, api.ErrorResponse{Error: message})
}

func classifyError(err error, notFound string) (int, string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, notFound
	case errors.Is(err, domain.ErrStatusRequired):
		return http.StatusBadRequest, api.MessageMissingStatus
	case domain.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrOrderAlreadyExists),
		errors.Is(err, domain.ErrOrderNotFulfilled),
		errors.Is(err, domain.ErrOrderVersionConflict):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}
