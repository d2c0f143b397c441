// Package client — HTTP-клиент REST API сервиса fulfillment для операторской консоли.
// Клиент только переводит вызовы в HTTP и не повторяет неудачные запросы.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/api"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

const (
	// Адрес API по умолчанию.
	DefaultBaseURL = "http://localhost:5000/api"
	// Таймаут HTTP-клиента по умолчанию.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

// Options задаёт параметры клиента.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *log.Entry
}

// Option настраивает Client.
type Option func(*Options)

// WithHTTPClient задаёт http.Client (например, из httptest.Server).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(opts *Options) {
		opts.HTTPClient = httpClient
	}
}

// WithTimeout задаёт таймаут на один запрос.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// Client вызывает REST API сервиса fulfillment.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *log.Entry
	userAgent string
}

// New создаёт клиент для baseURL; пустой baseURL означает DefaultBaseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", baseURL)
	}

	opts := Options{Timeout: DefaultTimeout}
	for _, option := range options {
		option(&opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout > 0 {
		copied := *httpClient
		copied.Timeout = opts.Timeout
		httpClient = &copied
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "api-client")
	}

	return &Client{
		baseURL:   strings.TrimRight(parsed.String(), "/"),
		http:      httpClient,
		logger:    logger,
		userAgent: version.UserAgent("fulfillment-client"),
	}, nil
}

// BaseURL возвращает адрес API без завершающего слэша.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetOrder загружает заказ: GET /orders/{orderId}.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "get order"
	if err := validateOrderID(op, orderID); err != nil {
		return domain.Order{}, err
	}

	var out api.Order
	if err := c.do(ctx, op, http.MethodGet, orderPath(orderID), nil, &out); err != nil {
		return domain.Order{}, err
	}
	return out.ToDomain(), nil
}

// UpdateTransfer назначает перевозчика: PUT /orders/{orderId}/transfer.
// Токен способа передачи уходит в JSON без изменений.
func (c *Client) UpdateTransfer(ctx context.Context, orderID string, transferType domain.TransferType) (domain.TransferStatus, error) {
	const op = "update transfer"
	if err := validateOrderID(op, orderID); err != nil {
		return domain.TransferStatus{}, err
	}
	if !transferType.Valid() {
		return domain.TransferStatus{}, &APIError{
			Op:      op,
			Message: fmt.Sprintf("unknown transfer type %q", string(transferType)),
			Kind:    ErrValidation,
			Err:     domain.ErrTransferTypeInvalid,
		}
	}

	var out api.TransferStatus
	body := api.TransferRequest{TransferType: string(transferType)}
	if err := c.do(ctx, op, http.MethodPut, orderPath(orderID)+"/transfer", body, &out); err != nil {
		return domain.TransferStatus{}, err
	}
	return out.ToDomain(), nil
}

// GetTransferStatus читает запись о передаче: GET /orders/{orderId}/transfer.
func (c *Client) GetTransferStatus(ctx context.Context, orderID string) (domain.TransferStatus, error) {
	const op = "get transfer status"
	if err := validateOrderID(op, orderID); err != nil {
		return domain.TransferStatus{}, err
	}

	var out api.TransferStatus
	if err := c.do(ctx, op, http.MethodGet, orderPath(orderID)+"/transfer", nil, &out); err != nil {
		return domain.TransferStatus{}, err
	}
	return out.ToDomain(), nil
}

// ListOrders загружает плоский список заказов: GET /orders.
func (c *Client) ListOrders(ctx context.Context) ([]api.OrderLine, error) {
	var out []api.OrderLine
	if err := c.do(ctx, "list orders", http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SystemStatus возвращает состояние сервиса: GET /system/status.
func (c *Client) SystemStatus(ctx context.Context) (api.SystemStatus, error) {
	var out api.SystemStatus
	if err := c.do(ctx, "system status", http.MethodGet, "/system/status", nil, &out); err != nil {
		return api.SystemStatus{}, err
	}
	return out, nil
}

// Ping проверяет доступность сервиса: GET /system/ping.
func (c *Client) Ping(ctx context.Context) error {
	var out api.Ping
	return c.do(ctx, "ping", http.MethodGet, "/system/ping", nil, &out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, Message: "encode request body", Kind: ErrValidation, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &APIError{Op: op, Message: "build request", Kind: ErrValidation, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return &APIError{Op: op, Message: "request failed", Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	fields := log.Fields{
		"op":          op,
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
			Kind:       kindForStatus(resp.StatusCode),
		}
		c.logger.WithFields(fields).WithError(apiErr).Debug("api call failed")
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Message:    "decode response body",
				Kind:       ErrServer,
				Err:        err,
			}
		}
	}

	c.logger.WithFields(fields).Debug("api call succeeded")
	return nil
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	var decoded api.ErrorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil && decoded.Error != "" {
		return decoded.Error
	}
	return strings.TrimSpace(string(raw))
}

func validateOrderID(op, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return &APIError{Op: op, Message: "order id is empty", Kind: ErrValidation, Err: domain.ErrOrderIDRequired}
	}
	return nil
}

func orderPath(orderID string) string {
	return "/orders/" + url.PathEscape(orderID)
}
