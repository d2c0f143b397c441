package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/api"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(server.URL+"/api", WithHTTPClient(server.Client()), WithTimeout(2*time.Second))
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestNew_Defaults(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	c, err = New("http://warehouse.local:5000/api/")
	require.NoError(t, err)
	assert.Equal(t, "http://warehouse.local:5000/api", c.BaseURL())

	_, err = New("ftp://warehouse.local")
	require.Error(t, err)
}

func TestGetOrder_Found(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/orders/1001", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.UserAgent(), "fulfillment-client/"))
		writeJSON(t, w, http.StatusOK, api.Order{ID: "1001", Status: "Fulfilled"})
	}))

	order, err := c.GetOrder(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "1001", order.ID)
	assert.Equal(t, domain.OrderStatusFulfilled, order.Status)
}

func TestGetOrder_EscapesID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/a%20b%3F", r.URL.EscapedPath())
		writeJSON(t, w, http.StatusOK, api.Order{ID: "a b?", Status: "Pending"})
	}))

	order, err := c.GetOrder(context.Background(), "a b?")
	require.NoError(t, err)
	assert.Equal(t, "a b?", order.ID)
}

func TestGetOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    error
		message string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":"Order not found"}`, kind: ErrNotFound, message: api.MessageOrderNotFound},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"Missing required fields"}`, kind: ErrValidation, message: api.MessageMissingFields},
		{name: "conflict", status: http.StatusConflict, body: `{"error":"order is not fulfilled"}`, kind: ErrValidation, message: "order is not fulfilled"},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{}`, kind: ErrValidation, message: "{}"},
		{name: "server", status: http.StatusInternalServerError, body: "boom", kind: ErrServer, message: "boom"},
		{name: "bad gateway", status: http.StatusBadGateway, body: "", kind: ErrServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := c.GetOrder(context.Background(), "1001")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, "get order", apiErr.Op)
		})
	}
}

func TestGetOrder_UndecodableBodyIsServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "<html>")
	}))

	_, err := c.GetOrder(context.Background(), "1001")
	assert.ErrorIs(t, err, ErrServer)
}

func TestGetOrder_EmptyIDNotSent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := c.GetOrder(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, domain.ErrOrderIDRequired)
	assert.Zero(t, calls.Load())
}

func TestGetOrder_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	c, err := New(base + "/api")
	require.NoError(t, err)

	_, err = c.GetOrder(context.Background(), "1001")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestGetOrder_CancelledContext(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetOrder(ctx, "1001")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpdateTransfer_SendsExactToken(t *testing.T) {
	assignedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/orders/1001/transfer", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req api.TransferRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "اسنپ باکس", req.TransferType)

		writeJSON(t, w, http.StatusOK, api.TransferStatus{
			OrderID:      "1001",
			TransferType: req.TransferType,
			State:        string(domain.TransferStateAssigned),
			AssignedAt:   &assignedAt,
		})
	}))

	status, err := c.UpdateTransfer(context.Background(), "1001", domain.TransferTypeSnappBox)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferTypeSnappBox, status.TransferType)
	assert.Equal(t, domain.TransferStateAssigned, status.State)
	require.NotNil(t, status.AssignedAt)
	assert.True(t, status.AssignedAt.Equal(assignedAt))
}

func TestUpdateTransfer_RejectsUnknownTypeLocally(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := c.UpdateTransfer(context.Background(), "1001", "DHL")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, domain.ErrTransferTypeInvalid)

	_, err = c.UpdateTransfer(context.Background(), "", domain.TransferTypePost)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, calls.Load())
}

func TestUpdateTransfer_NotFulfilledIsValidation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusConflict, api.ErrorResponse{Error: "order is not fulfilled"})
	}))

	_, err := c.UpdateTransfer(context.Background(), "1001", domain.TransferTypePost)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, IsNotFound(err))
}

func TestGetTransferStatus_Unassigned(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(t, w, http.StatusOK, api.TransferStatus{OrderID: "1001", State: "unassigned"})
	}))

	status, err := c.GetTransferStatus(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStateUnassigned, status.State)
	assert.Empty(t, status.TransferType)
}

func TestListOrders(t *testing.T) {
	stamp := "2024/03/01 13:30"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders", r.URL.Path)
		writeJSON(t, w, http.StatusOK, []api.OrderLine{
			{ID: "1001", SKU: "SKU-1", Quantity: 2, Scanned: 2, Status: "Fulfilled", ScanTimestamp: &stamp},
			{ID: "1001", SKU: "SKU-2", Quantity: 1, Status: "Fulfilled"},
		})
	}))

	lines, err := c.ListOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "SKU-1", lines[0].SKU)
	require.NotNil(t, lines[0].ScanTimestamp)
	assert.Equal(t, stamp, *lines[0].ScanTimestamp)
	assert.Nil(t, lines[1].ScanTimestamp)
}

func TestSystemEndpoints(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/system/status":
			writeJSON(t, w, http.StatusOK, api.SystemStatus{Status: "ok", Timestamp: "2024/03/01 10:00:00", Version: "1.2.3"})
		case "/api/system/ping":
			writeJSON(t, w, http.StatusOK, api.Ping{Status: "ok", Timestamp: 1709287200000})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	status, err := c.SystemStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", status.Version)

	require.NoError(t, c.Ping(context.Background()))
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Op: "get order", StatusCode: 404, Message: "Order not found", Kind: ErrNotFound}
	assert.Equal(t, "get order: not found (http 404): Order not found", err.Error())

	cause := errors.New("dial tcp: refused")
	err = &APIError{Op: "ping", Message: "request failed", Kind: ErrNetwork, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.NotErrorIs(t, err, ErrServer)
}
