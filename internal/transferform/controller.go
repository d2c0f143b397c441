// Package transferform — контроллер формы назначения перевозчика собранному заказу.
//
// Оператор выбирает способ передачи и сканирует номер заказа; контроллер загружает
// заказ, разрешает отправку только для собранного заказа и после успешной
// отправки сбрасывает форму и инвалидирует список заказов.
package transferform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/client"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/querycache"
)

// DefaultLookupTimeout ограничивает загрузку заказа, если WithLookupTimeout не задан.
const DefaultLookupTimeout = 5 * time.Second

var (
	// Заказ не загружен, не собран или не выбран способ передачи.
	ErrSubmitNotAllowed = errors.New("submit is not allowed")
	// Предыдущая отправка ещё не завершилась.
	ErrSubmitInFlight = errors.New("submit already in flight")
	// Загрузка без идентификатора заказа.
	ErrNoOrderID = errors.New("order id is empty")
	// Результат загрузки отброшен: идентификатор сменился.
	ErrLookupSuperseded = errors.New("lookup superseded")
)

// OrderGateway — операции API, нужные форме.
type OrderGateway interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	UpdateTransfer(ctx context.Context, orderID string, transferType domain.TransferType) (domain.TransferStatus, error)
}

// Invalidator публикует инвалидацию кэшированного ресурса.
type Invalidator interface {
	Invalidate(resource string)
}

// Options задаёт параметры контроллера.
type Options struct {
	Logger        *log.Entry
	LookupTimeout time.Duration
}

// Option настраивает Controller.
type Option func(*Options)

// WithLogger задаёт logger контроллера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLookupTimeout ограничивает время одной загрузки заказа.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.LookupTimeout = timeout
	}
}

// Controller хранит состояние формы. Безопасен для конкурентного использования.
type Controller struct {
	gateway       OrderGateway
	invalidator   Invalidator
	logger        *log.Entry
	lookupTimeout time.Duration

	mu           sync.Mutex
	orderID      string
	selected     domain.TransferType
	phase        Phase
	order        *domain.Order
	err          error
	submitted    bool
	lastTransfer *domain.TransferStatus
	submitting   bool
	// generation растёт при каждой смене идентификатора и каждой загрузке;
	// результат запроса применяется, только если поколение не изменилось.
	generation   uint64
	cancelLookup context.CancelFunc
}

// New создаёт контроллер. invalidator может быть nil.
func New(gateway OrderGateway, invalidator Invalidator, options ...Option) *Controller {
	opts := Options{LookupTimeout: DefaultLookupTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "transfer-form")
	}

	return &Controller{
		gateway:       gateway,
		invalidator:   invalidator,
		logger:        logger,
		lookupTimeout: opts.LookupTimeout,
		phase:         PhaseEmpty,
	}
}

// SelectTransfer выбирает способ передачи. Допустимы только токены из domain.TransferTypes.
func (c *Controller) SelectTransfer(transferType domain.TransferType) error {
	if !transferType.Valid() {
		return domain.ErrTransferTypeInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = transferType
	return nil
}

// SetOrderID меняет идентификатор заказа. Незавершённая загрузка прежнего
// идентификатора отменяется, отображение возвращается в Empty до вызова Lookup.
func (c *Controller) SetOrderID(orderID string) {
	orderID = strings.TrimSpace(orderID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if orderID == c.orderID {
		return
	}
	c.orderID = orderID
	c.bumpGenerationLocked()
	c.phase = PhaseEmpty
	c.order = nil
	c.err = nil
	c.submitted = false
}

// Lookup загружает заказ по текущему идентификатору.
// Возвращает nil, если заказ найден, ошибку API для NotFound и Failed,
// ErrLookupSuperseded, если за время запроса идентификатор сменился.
func (c *Controller) Lookup(ctx context.Context) error {
	c.mu.Lock()
	orderID := c.orderID
	if orderID == "" {
		c.phase = PhaseEmpty
		c.mu.Unlock()
		return ErrNoOrderID
	}
	gen := c.bumpGenerationLocked()
	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	c.cancelLookup = cancel
	c.phase = PhaseLoading
	c.order = nil
	c.err = nil
	c.mu.Unlock()

	order, err := c.gateway.GetOrder(lookupCtx, orderID)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.logger.WithFields(log.Fields{
			"order_id": orderID,
		}).Debug("discarding stale lookup result")
		return ErrLookupSuperseded
	}
	c.cancelLookup = nil

	switch {
	case err == nil:
		c.phase = PhaseFound
		c.order = cloneOrder(order)
		return nil
	case isNotFound(err):
		c.phase = PhaseNotFound
		c.err = err
		return err
	default:
		c.phase = PhaseFailed
		c.err = err
		c.logger.WithError(err).WithField("order_id", orderID).Warn("order lookup failed")
		return err
	}
}

// Submit назначает выбранный способ передачи загруженному заказу.
// Без собранного заказа или выбранного способа запрос не отправляется.
// После успеха форма сбрасывается и список заказов инвалидируется;
// после ошибки состояние сохраняется для повторной попытки.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	if !c.canSubmitLocked() {
		c.mu.Unlock()
		return ErrSubmitNotAllowed
	}
	orderID, transferType, gen := c.orderID, c.selected, c.generation
	c.submitting = true
	c.submitted = false
	c.err = nil
	c.phase = PhaseSubmitting
	c.mu.Unlock()

	status, err := c.gateway.UpdateTransfer(ctx, orderID, transferType)

	c.mu.Lock()
	c.submitting = false
	fields := log.Fields{
		"order_id":      orderID,
		"transfer_type": string(transferType),
	}

	if err != nil {
		c.err = err
		if gen == c.generation {
			c.phase = PhaseFound
		}
		c.mu.Unlock()
		c.logger.WithError(err).WithFields(fields).Warn("transfer submit failed")
		return fmt.Errorf("submit transfer: %w", err)
	}

	// успех всегда очищает форму, даже если заказ пересканировали во время отправки
	c.resetLocked()
	c.submitted = true
	c.lastTransfer = &status
	c.mu.Unlock()

	c.logger.WithFields(fields).Info("transfer assigned")
	if c.invalidator != nil {
		c.invalidator.Invalidate(querycache.ResourceOrders)
	}
	return nil
}

// View возвращает снимок состояния формы.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := View{
		OrderID:          c.orderID,
		SelectedTransfer: c.selected,
		Phase:            c.phase,
		Err:              c.err,
		CanSubmit:        !c.submitting && c.canSubmitLocked(),
		Submitted:        c.submitted,
	}
	if c.order != nil {
		view.Order = cloneOrder(*c.order)
	}
	if c.lastTransfer != nil {
		last := *c.lastTransfer
		view.LastTransfer = &last
	}
	return view
}

// Reset возвращает форму в начальное состояние и отменяет незавершённую загрузку.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.submitted = false
	c.lastTransfer = nil
}

func (c *Controller) resetLocked() {
	c.bumpGenerationLocked()
	c.orderID = ""
	c.selected = ""
	c.phase = PhaseEmpty
	c.order = nil
	c.err = nil
}

func (c *Controller) canSubmitLocked() bool {
	return c.phase == PhaseFound &&
		c.order != nil &&
		c.order.CanAssignTransfer() &&
		c.selected.Valid()
}

func (c *Controller) bumpGenerationLocked() uint64 {
	if c.cancelLookup != nil {
		c.cancelLookup()
		c.cancelLookup = nil
	}
	c.generation++
	return c.generation
}

func isNotFound(err error) bool {
	return errors.Is(err, client.ErrNotFound) || errors.Is(err, domain.ErrOrderNotFound)
}
