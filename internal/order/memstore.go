package order

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// MemoryRepository keeps orders in process memory. All writes happen under a
// single mutex, so ConditionalUpdate is a real compare-and-swap.
type MemoryRepository struct {
	mu         sync.RWMutex
	orders     map[uuid.UUID]*Order
	byNumber   map[int64]uuid.UUID
	history    map[uuid.UUID][]StatusChange
	lastNumber int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:     make(map[uuid.UUID]*Order),
		byNumber:   make(map[int64]uuid.UUID),
		history:    make(map[uuid.UUID][]StatusChange),
		lastNumber: 999,
	}
}

func (r *MemoryRepository) Create(_ context.Context, order *Order) error {
	if order.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		order.ID = id
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return ErrDuplicateOrderID
	}

	now := time.Now().UTC()
	r.lastNumber++
	order.Number = r.lastNumber
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.Items == nil {
		order.Items = make([]Item, 0)
	}
	if order.Couriers == nil {
		order.Couriers = make([]CourierAssignment, 0)
	}

	r.orders[order.ID] = order.clone()
	r.byNumber[order.Number] = order.ID
	r.history[order.ID] = []StatusChange{{
		OrderID:   order.ID,
		To:        order.Status,
		ChangedBy: order.CustomerID,
		ChangedAt: now,
	}}
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.clone(), nil
}

func (r *MemoryRepository) GetByNumber(ctx context.Context, number int64) (*Order, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Query(_ context.Context, filter Filter, sort Sort, page Page) ([]Order, int, error) {
	r.mu.RLock()
	matched := make([]Order, 0)
	for _, o := range r.orders {
		if matches(o, filter) {
			matched = append(matched, *o.clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Order) int {
		c := compareBy(sort.Field, a, b)
		if c == 0 {
			c = cmp.Compare(a.Number, b.Number)
		}
		if sort.Desc {
			return -c
		}
		return c
	})

	total := len(matched)
	if page.Limit == 0 {
		return matched, total, nil
	}
	start := min(page.Offset(), total)
	end := min(start+page.Limit, total)
	return matched[start:end], total, nil
}

func matches(o *Order, f Filter) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.StoreIDs != nil && !slices.Contains(f.StoreIDs, o.Store.ID) {
		return false
	}
	if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
		return false
	}
	if f.CourierID != nil && !o.HasCourier(*f.CourierID) {
		return false
	}
	return true
}

func compareBy(field SortField, a, b Order) int {
	switch field {
	case SortByNumber:
		return cmp.Compare(a.Number, b.Number)
	case SortByTotal:
		return a.Total.Cmp(b.Total)
	case SortByStatus:
		return cmp.Compare(a.Status, b.Status)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (r *MemoryRepository) ConditionalUpdate(_ context.Context, id uuid.UUID, expected Status, patch Patch) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != expected {
		return nil, ErrConflict
	}
	if _, busy := o.ActiveCourier(); busy && patch.RequireNoActiveCourier {
		return nil, ErrConflict
	}

	now := time.Now().UTC()
	o.Status = patch.Status
	o.UpdatedAt = now
	if patch.AssignCourier != nil {
		o.Couriers = append(o.Couriers, *patch.AssignCourier)
	}
	r.history[id] = append(r.history[id], StatusChange{
		OrderID:   id,
		From:      expected,
		To:        patch.Status,
		ChangedBy: patch.ChangedBy,
		ChangedAt: now,
	})

	return o.clone(), nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	delete(r.byNumber, o.Number)
	delete(r.orders, id)
	delete(r.history, id)
	return nil
}

func (r *MemoryRepository) History(_ context.Context, id uuid.UUID) ([]StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.orders[id]; !ok {
		return nil, ErrOrderNotFound
	}
	return append([]StatusChange(nil), r.history[id]...), nil
}
