package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation = "23505"

	orderColumns = `id, status, transfer_type, transfer_assigned_at, version, created_at, updated_at`
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *orderRepository) Create(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		order.ID, string(order.Status), nullableTransfer(order.TransferType), order.TransferAssignedAt,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for position, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, sku, position, title, color, quantity, scanned, price, scan_timestamp
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			order.ID, item.SKU, position, item.Title, item.Color,
			item.Quantity, item.Scanned, item.Price, item.ScanTimestamp,
		); err != nil {
			return fmt.Errorf("insert order item %s: %w", item.SKU, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// List возвращает все заказы, новые первыми.
func (r *orderRepository) List() ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	_ = rows.Close()

	for idx := range orders {
		if orders[idx].Items, err = r.loadItems(ctx, orders[idx].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    transfer_type = $2,
		    transfer_assigned_at = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
	`,
		string(order.Status),
		nullableTransfer(order.TransferType),
		order.TransferAssignedAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := orderExistsTx(ctx, tx, order.ID)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	// Состав позиций после создания не меняется, обновляем только прогресс сканирования.
	for _, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			UPDATE order_items
			SET scanned = $1,
			    scan_timestamp = $2
			WHERE order_id = $3
			  AND sku = $4
		`, item.Scanned, item.ScanTimestamp, order.ID, item.SKU); err != nil {
			return fmt.Errorf("update order item %s: %w", item.SKU, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sku, title, color, quantity, scanned, price, scan_timestamp
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var (
			item    domain.OrderItem
			scanned sql.NullTime
		)
		if err := rows.Scan(
			&item.SKU, &item.Title, &item.Color,
			&item.Quantity, &item.Scanned, &item.Price, &scanned,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.ScanTimestamp = timePtr(scanned)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order      domain.Order
		status     string
		transfer   sql.NullString
		assignedAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &status, &transfer, &assignedAt,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if transfer.Valid {
		order.TransferType = domain.TransferType(transfer.String)
	}
	order.TransferAssignedAt = timePtr(assignedAt)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullableTransfer(t domain.TransferType) sql.NullString {
	return sql.NullString{String: string(t), Valid: t != ""}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
