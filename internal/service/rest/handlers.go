package restsvc

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/fulfillment/internal/api"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
)

const (
	maxBodyBytes = 1 << 20

	statusOperational = "operational"
	statusOK          = "ok"

	messageScanSuccessful = "Scan successful"
	messageStatusUpdated  = "Status updated successfully"
	messageInvalidBody    = "Invalid JSON body"
)

func (h *Handler) systemStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.SystemStatus{
		Status:    statusOperational,
		Timestamp: h.now().Format(api.SystemTimestampLayout),
		Version:   h.version,
	})
}

func (h *Handler) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.Ping{
		Status:    statusOK,
		Timestamp: h.now().UnixMilli(),
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context())
	if err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.OrderLines(orders))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req api.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: messageInvalidBody})
		return
	}

	input := fulfillment.NewOrder{ID: req.ID, Items: make([]domain.OrderItem, 0, len(req.Items))}
	for _, item := range req.Items {
		input.Items = append(input.Items, domain.OrderItem{
			SKU:      item.SKU,
			Title:    item.Title,
			Color:    item.Color,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}

	order, err := h.svc.CreateOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, api.FromOrder(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), orderIDParam(r))
	if err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.FromOrder(order))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := orderIDParam(r)

	// несуществующий заказ важнее некорректного тела
	if _, err := h.svc.GetOrder(r.Context(), orderID); err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}

	var req api.StatusUpdateRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Status) == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: api.MessageMissingStatus})
		return
	}

	if _, err := h.svc.UpdateStatus(r.Context(), orderID, domain.OrderStatus(req.Status)); err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: messageStatusUpdated})
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var req api.ScanRequest
	if err := decodeJSON(r, &req); err != nil ||
		strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.SKU) == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: api.MessageMissingFields})
		return
	}

	if _, err := h.svc.Scan(r.Context(), req.OrderID, req.SKU); err != nil {
		h.writeError(w, r, err, api.MessageOrderOrSKUAbsent)
		return
	}
	writeJSON(w, http.StatusOK, api.MessageResponse{Message: messageScanSuccessful})
}

func (h *Handler) assignTransfer(w http.ResponseWriter, r *http.Request) {
	var req api.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: messageInvalidBody})
		return
	}

	status, err := h.svc.AssignTransfer(r.Context(), orderIDParam(r), domain.TransferType(req.TransferType))
	if err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.FromTransferStatus(status))
}

func (h *Handler) transferStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetTransferStatus(r.Context(), orderIDParam(r))
	if err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.FromTransferStatus(status))
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Timeline(r.Context(), orderIDParam(r))
	if err != nil {
		h.writeError(w, r, err, api.MessageOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, api.FromTimeline(events))
}

var _ OrderService = (*fulfillment.Service)(nil)

// orderIDParam возвращает идентификатор заказа из пути.
// Если в пути есть экранированные символы (например %2F), chi маршрутизирует по RawPath
// и отдаёт сегмент в экранированном виде.
func orderIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "orderId")
	if r.URL.RawPath == "" {
		return raw
	}
	id, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return id
}
