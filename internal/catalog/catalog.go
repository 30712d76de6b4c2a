// Package catalog answers price and availability questions for products and
// routing questions for stores. It never writes.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrStoreNotFound   = errors.New("store not found")
)

type Price struct {
	ProductID uuid.UUID
	Name      string
	Price     decimal.Decimal
	Available bool
}

type Store struct {
	ID     uuid.UUID
	Name   string
	CityID string
	ZoneID string
}

type Lookup interface {
	// GetPriceAndAvailability returns ErrProductNotFound when the product
	// does not exist in the given store.
	GetPriceAndAvailability(ctx context.Context, productID, storeID uuid.UUID) (Price, error)
	GetStore(ctx context.Context, storeID uuid.UUID) (Store, error)
}

type postgresLookup struct {
	db *pgxpool.Pool
}

func NewPostgresLookup(db *pgxpool.Pool) Lookup {
	return &postgresLookup{db: db}
}

func (l *postgresLookup) GetPriceAndAvailability(ctx context.Context, productID, storeID uuid.UUID) (Price, error) {
	p := Price{ProductID: productID}
	err := l.db.QueryRow(ctx, `
		SELECT name, price, available
		FROM products
		WHERE id = $1 AND store_id = $2
	`, productID, storeID).Scan(&p.Name, &p.Price, &p.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Price{}, ErrProductNotFound
		}
		return Price{}, fmt.Errorf("catalog: failed to select product %s: %w", productID, err)
	}
	return p, nil
}

func (l *postgresLookup) GetStore(ctx context.Context, storeID uuid.UUID) (Store, error) {
	s := Store{ID: storeID}
	err := l.db.QueryRow(ctx, `
		SELECT name, COALESCE(city_id, ''), COALESCE(zone_id, '')
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&s.Name, &s.CityID, &s.ZoneID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Store{}, ErrStoreNotFound
		}
		return Store{}, fmt.Errorf("catalog: failed to select store %s: %w", storeID, err)
	}
	return s, nil
}

// Memory is an in-process catalog used by the memory store driver and tests.
type Memory struct {
	mu       sync.RWMutex
	stores   map[uuid.UUID]Store
	products map[uuid.UUID]map[uuid.UUID]Price
}

func NewMemory() *Memory {
	return &Memory{
		stores:   make(map[uuid.UUID]Store),
		products: make(map[uuid.UUID]map[uuid.UUID]Price),
	}
}

func (m *Memory) PutStore(s Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[s.ID] = s
	if m.products[s.ID] == nil {
		m.products[s.ID] = make(map[uuid.UUID]Price)
	}
}

// PutProduct adds or reprices a product. The store must exist.
func (m *Memory) PutProduct(storeID uuid.UUID, p Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[storeID]; !ok {
		return ErrStoreNotFound
	}
	m.products[storeID][p.ProductID] = p
	return nil
}

func (m *Memory) GetPriceAndAvailability(_ context.Context, productID, storeID uuid.UUID) (Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[storeID][productID]
	if !ok {
		return Price{}, ErrProductNotFound
	}
	return p, nil
}

func (m *Memory) GetStore(_ context.Context, storeID uuid.UUID) (Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[storeID]
	if !ok {
		return Store{}, ErrStoreNotFound
	}
	return s, nil
}
