package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/api"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/querycache"
	"github.com/vladislavdragonenkov/fulfillment/internal/transferform"
)

// Тексты экрана передачи заказа.
const (
	titleTransfer      = "ثبت حمل و نقل"
	labelSelectType    = "انتخاب نوع حمل و نقل"
	labelScanOrder     = "اسکن شماره سفارش"
	labelOrderDetails  = "جزئیات سفارش"
	labelOrderID       = "شماره سفارش"
	labelStatus        = "وضعیت"
	msgLoading         = "در حال بارگذاری..."
	msgNotFound        = "سفارش مورد نظر یافت نشد"
	msgSubmitting      = "در حال ثبت..."
	msgSubmitted       = "حمل و نقل با موفقیت ثبت شد"
	msgNotFulfilled    = "سفارش هنوز تکمیل نشده است"
	msgSelectTransfer  = "نوع حمل و نقل انتخاب نشده است"
	msgUnknownTransfer = "نوع حمل و نقل نامعتبر است"
)

const helpText = `commands:
  1 | 2 | 3 | <transfer token>   select transfer type
  scan <order id> | <order id>   look up an order
  submit                         assign the selected transfer type
  status <order id>              show transfer status of an order
  orders                         list orders (cached until a transfer is assigned)
  reset                          clear the form
  help                           show this help
  quit                           exit`

// transferStatusReader — запрос статуса передачи для команды status.
type transferStatusReader interface {
	GetTransferStatus(ctx context.Context, orderID string) (domain.TransferStatus, error)
}

// console — построчный интерфейс оператора поверх transferform.Controller.
// Сканер штрихкодов выдаёт одну строку на скан.
type console struct {
	form     *transferform.Controller
	statuses transferStatusReader
	orders   *querycache.Collection[api.OrderLine]
	out      io.Writer
	logger   *log.Entry
}

func newConsole(
	form *transferform.Controller,
	statuses transferStatusReader,
	orders *querycache.Collection[api.OrderLine],
	out io.Writer,
	logger *log.Entry,
) *console {
	if logger == nil {
		logger = log.WithField("component", "transfer-console")
	}
	return &console{form: form, statuses: statuses, orders: orders, out: out, logger: logger}
}

// Run читает команды до quit, конца ввода или отмены ctx.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	c.printf("%s\n%s\n", titleTransfer, helpText)
	c.render()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle выполняет одну команду; true, если пользователь вышел.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if transferType, ok := parseTransferChoice(line); ok {
		c.selectTransfer(transferType)
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(command) {
	case "quit", "exit":
		return true
	case "help":
		c.printf("%s\n", helpText)
	case "reset":
		c.form.Reset()
		c.render()
	case "submit":
		c.submit(ctx)
	case "orders":
		c.listOrders(ctx)
	case "status":
		c.transferStatus(ctx, arg)
	case "scan":
		c.lookup(ctx, arg)
	default:
		c.lookup(ctx, line)
	}
	return false
}

func (c *console) selectTransfer(transferType domain.TransferType) {
	if err := c.form.SelectTransfer(transferType); err != nil {
		c.printf("%s: %v\n", msgUnknownTransfer, err)
		return
	}
	c.render()
}

func (c *console) lookup(ctx context.Context, orderID string) {
	if orderID == "" {
		c.printf("%s: ?\n", labelScanOrder)
		return
	}

	c.form.SetOrderID(orderID)
	err := c.form.Lookup(ctx)
	if errors.Is(err, transferform.ErrLookupSuperseded) {
		return
	}
	c.render()
}

func (c *console) submit(ctx context.Context) {
	err := c.form.Submit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, transferform.ErrSubmitNotAllowed):
		c.printf("%s\n", c.submitBlockedReason())
		return
	case errors.Is(err, transferform.ErrSubmitInFlight):
		c.printf("%s\n", msgSubmitting)
		return
	}
	c.render()
}

// submitBlockedReason объясняет, какого условия не хватает для отправки.
func (c *console) submitBlockedReason() string {
	view := c.form.View()
	switch {
	case view.Phase == transferform.PhaseNotFound:
		return msgNotFound
	case view.Order == nil:
		return labelScanOrder
	case !view.Fulfilled():
		return msgNotFulfilled
	case view.SelectedTransfer == "":
		return msgSelectTransfer
	default:
		return msgSubmitting
	}
}

func (c *console) transferStatus(ctx context.Context, orderID string) {
	if orderID == "" {
		c.printf("usage: status <order id>\n")
		return
	}

	status, err := c.statuses.GetTransferStatus(ctx, orderID)
	if err != nil {
		c.printError(err)
		return
	}
	line := fmt.Sprintf("%s: %s  %s: %s", labelOrderID, status.OrderID, labelStatus, status.State)
	if status.TransferType != "" {
		line += "  " + string(status.TransferType)
	}
	if status.AssignedAt != nil {
		line += "  " + status.AssignedAt.Local().Format(domain.ScanTimestampLayout)
	}
	c.printf("%s\n", line)
}

func (c *console) listOrders(ctx context.Context) {
	refreshed := c.orders.Stale()
	lines, err := c.orders.Get(ctx)
	if err != nil {
		c.printError(err)
		return
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSKU\tTITLE\tSCANNED\tSTATUS\tTRANSFER")
	for _, line := range lines {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			line.ID, line.SKU, line.Title, line.Scanned, line.Quantity, line.Status, line.TransferType)
	}
	_ = w.Flush()

	source := "cache"
	if refreshed {
		source = "server"
	}
	c.printf("%d lines (%s, %s)\n", len(lines), source, c.orders.FetchedAt().Format("15:04:05"))
}

// render печатает текущее состояние формы.
func (c *console) render() {
	view := c.form.View()

	selected := string(view.SelectedTransfer)
	if selected == "" {
		selected = "-"
	}
	c.printf("── %s ──\n", titleTransfer)
	c.printf("%s: %s\n", labelSelectType, selected)
	for idx, transferType := range domain.TransferTypes() {
		marker := " "
		if transferType == view.SelectedTransfer {
			marker = "*"
		}
		c.printf("  [%s] %d %s\n", marker, idx+1, transferType)
	}

	orderID := view.OrderID
	if orderID == "" {
		orderID = "-"
	}
	c.printf("%s: %s\n", labelScanOrder, orderID)

	switch view.Phase {
	case transferform.PhaseLoading:
		c.printf("%s\n", msgLoading)
	case transferform.PhaseFound, transferform.PhaseSubmitting:
		c.printf("%s\n  %s: %s\n  %s: %s\n", labelOrderDetails,
			labelOrderID, view.Order.ID, labelStatus, view.Order.Status)
		if view.Phase == transferform.PhaseSubmitting {
			c.printf("%s\n", msgSubmitting)
		} else if view.CanSubmit {
			c.printf("submit → %s\n", titleTransfer)
		}
		if view.Err != nil {
			c.printError(view.Err)
		}
	case transferform.PhaseNotFound:
		c.printf("%s\n", msgNotFound)
	case transferform.PhaseFailed:
		c.printError(view.Err)
	}

	if view.Submitted && view.LastTransfer != nil {
		c.printf("%s (%s → %s)\n", msgSubmitted, view.LastTransfer.OrderID, view.LastTransfer.TransferType)
	}
}

func (c *console) printError(err error) {
	c.logger.WithError(err).Debug("operation failed")
	c.printf("error: %v\n", err)
}

func (c *console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// parseTransferChoice принимает номер варианта (1..3) или точный токен способа передачи.
func parseTransferChoice(line string) (domain.TransferType, bool) {
	if transferType, err := domain.ParseTransferType(line); err == nil {
		return transferType, true
	}
	idx, err := strconv.Atoi(line)
	if err != nil {
		return "", false
	}
	types := domain.TransferTypes()
	if idx < 1 || idx > len(types) {
		return "", false
	}
	return types[idx-1], true
}
