package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateOrderID = errors.New("order with this ID already exists")

type Repository interface {
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number int64) (*Order, error)
	Query(ctx context.Context, filter Filter, sort Sort, page Page) ([]Order, int, error)
	// ConditionalUpdate applies patch only if the order still has status
	// expected. It returns ErrOrderNotFound or ErrConflict otherwise.
	ConditionalUpdate(ctx context.Context, id uuid.UUID, expected Status, patch Patch) (*Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, id uuid.UUID) ([]StatusChange, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const selectOrders = `
	SELECT o.id, o.number, o.customer_id, o.store_id, s.name,
		COALESCE(s.city_id, ''), COALESCE(s.zone_id, ''),
		o.status, o.total, o.delivery_lat, o.delivery_lng, o.delivery_address,
		o.created_at, o.updated_at
	FROM orders o
	JOIN stores s ON s.id = o.store_id
`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.Number,
		&o.CustomerID,
		&o.Store.ID,
		&o.Store.Name,
		&o.Store.CityID,
		&o.Store.ZoneID,
		&o.Status,
		&o.Total,
		&o.DeliveryLocation.Lat,
		&o.DeliveryLocation.Lng,
		&o.DeliveryLocation.Address,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Items = make([]Item, 0)
	o.Couriers = make([]CourierAssignment, 0)
	return &o, nil
}

func (r *postgresRepository) Create(ctx context.Context, order *Order) (err error) {
	if order.ID == uuid.Nil {
		id, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		order.ID = id
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() { err = finishTx(ctx, tx, order.ID, err, recover()) }()

	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, customer_id, store_id, status, total, delivery_lat, delivery_lng, delivery_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING number
	`,
		order.ID,
		order.CustomerID,
		order.Store.ID,
		string(order.Status),
		order.Total,
		order.DeliveryLocation.Lat,
		order.DeliveryLocation.Lng,
		order.DeliveryLocation.Address,
		now,
	).Scan(&order.Number)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicateOrderID
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	for _, item := range order.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", order.ID, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, from_status, to_status, changed_by, changed_at)
		VALUES ($1, NULL, $2, $3, $4)
	`, order.ID, string(order.Status), order.CustomerID, now)
	if err != nil {
		return fmt.Errorf("repository: failed to write status log for order %s: %w", order.ID, err)
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, selectOrders+` WHERE o.id = $1`, id)
}

func (r *postgresRepository) GetByNumber(ctx context.Context, number int64) (*Order, error) {
	return r.getOne(ctx, selectOrders+` WHERE o.number = $1`, number)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by %v: %w", arg, err)
	}

	if err := r.loadDetails(ctx, map[uuid.UUID]*Order{o.ID: o}, []uuid.UUID{o.ID}); err != nil {
		return nil, err
	}
	return o, nil
}

var sortColumns = map[SortField]string{
	SortByCreatedAt: "o.created_at",
	SortByNumber:    "o.number",
	SortByTotal:     "o.total",
	SortByStatus:    "o.status",
}

func buildWhere(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != nil {
		add("o.status = $%d", string(*filter.Status))
	}
	if filter.StoreIDs != nil {
		add("o.store_id = ANY($%d)", filter.StoreIDs)
	}
	if filter.CustomerID != nil {
		add("o.customer_id = $%d", *filter.CustomerID)
	}
	if filter.CourierID != nil {
		add("EXISTS (SELECT 1 FROM order_couriers c WHERE c.order_id = o.id AND c.courier_id = $%d)", *filter.CourierID)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *postgresRepository) Query(ctx context.Context, filter Filter, sort Sort, page Page) ([]Order, int, error) {
	where, args := buildWhere(filter)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders o`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository: failed to count orders: %w", err)
	}

	column, ok := sortColumns[sort.Field]
	if !ok {
		column = sortColumns[SortByCreatedAt]
	}
	direction := "ASC"
	if sort.Desc {
		direction = "DESC"
	}

	query := selectOrders + where + fmt.Sprintf(" ORDER BY %s %s, o.number %s", column, direction, direction)
	if page.Limit > 0 {
		args = append(args, page.Limit, page.Offset())
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*Order)
	var ids []uuid.UUID
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository: failed iterating orders: %w", err)
	}

	if len(ids) == 0 {
		return []Order{}, total, nil
	}

	if err := r.loadDetails(ctx, byID, ids); err != nil {
		return nil, 0, err
	}

	result := make([]Order, 0, len(ids))
	for _, id := range ids {
		result = append(result, *byID[id])
	}
	return result, total, nil
}

// loadDetails fills items and courier assignments for the given orders.
func (r *postgresRepository) loadDetails(ctx context.Context, byID map[uuid.UUID]*Order, ids []uuid.UUID) error {
	itemRows, err := r.db.Query(ctx, `
		SELECT order_id, product_id, name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			orderID uuid.UUID
			item    Item
		)
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return fmt.Errorf("repository: failed to scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order items: %w", err)
	}

	courierRows, err := r.db.Query(ctx, `
		SELECT order_id, courier_id, active, assigned_at
		FROM order_couriers
		WHERE order_id = ANY($1)
		ORDER BY assigned_at
	`, ids)
	if err != nil {
		return fmt.Errorf("repository: failed to query order couriers: %w", err)
	}
	defer courierRows.Close()

	for courierRows.Next() {
		var (
			orderID uuid.UUID
			c       CourierAssignment
		)
		if err := courierRows.Scan(&orderID, &c.CourierID, &c.Active, &c.AssignedAt); err != nil {
			return fmt.Errorf("repository: failed to scan order courier: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Couriers = append(o.Couriers, c)
		}
	}
	if err := courierRows.Err(); err != nil {
		return fmt.Errorf("repository: failed iterating order couriers: %w", err)
	}

	return nil
}

func (r *postgresRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected Status, patch Patch) (*Order, error) {
	if err := r.conditionalUpdateTx(ctx, id, expected, patch); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *postgresRepository) conditionalUpdateTx(ctx context.Context, id uuid.UUID, expected Status, patch Patch) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() { err = finishTx(ctx, tx, id, err, recover()) }()

	now := time.Now().UTC()

	// The row lock taken by UPDATE serialises racing writers; the loser
	// re-evaluates the WHERE clause against the committed row and matches nothing.
	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders o
		SET status = $1, updated_at = $2
		WHERE o.id = $3
			AND o.status = $4
			AND (NOT $5::boolean OR NOT EXISTS (
				SELECT 1 FROM order_couriers c WHERE c.order_id = o.id AND c.active
			))
	`, string(patch.Status), now, id, string(expected), patch.RequireNoActiveCourier)
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s: %w", id, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", id, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		log.Warn().Stringer("order_id", id).Stringer("expected_status", expected).Msg("repository: conditional update lost")
		return ErrConflict
	}

	if patch.AssignCourier != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_couriers (order_id, courier_id, active, assigned_at)
			VALUES ($1, $2, $3, $4)
		`, id, patch.AssignCourier.CourierID, patch.AssignCourier.Active, patch.AssignCourier.AssignedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrConflict
			}
			return fmt.Errorf("repository: failed to assign courier to order %s: %w", id, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_log (order_id, from_status, to_status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, string(expected), string(patch.Status), patch.ChangedBy, now)
	if err != nil {
		return fmt.Errorf("repository: failed to write status log for order %s: %w", id, err)
	}

	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("repository: failed to delete order")
		return fmt.Errorf("repository: failed to delete order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) History(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT order_id, COALESCE(from_status, ''), to_status, changed_by, changed_at
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query status log for order %s: %w", id, err)
	}
	defer rows.Close()

	changes := make([]StatusChange, 0)
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.OrderID, &c.From, &c.To, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan status log for order %s: %w", id, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating status log for order %s: %w", id, err)
	}
	return changes, nil
}

// finishTx commits when err is nil and rolls back otherwise. panicValue is
// the deferred recover() result; it is re-raised after rollback.
func finishTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, err error, panicValue any) error {
	if p := panicValue; p != nil {
		log.Error().Interface("panic_value", p).Stringer("order_id", orderID).Msg("repository: panic recovered, rolling back")
		_ = tx.Rollback(ctx)
		panic(p)
	}
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback transaction")
		}
		return err
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		log.Error().Err(commitErr).Stringer("order_id", orderID).Msg("repository: failed to commit transaction")
		return fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
	}
	return nil
}
