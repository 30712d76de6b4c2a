package order_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

func seedOrder(t *testing.T, repo order.Repository, status order.Status, total string) *order.Order {
	t.Helper()
	o := &order.Order{
		CustomerID: newID(),
		Store:      order.StoreRef{ID: newID(), Name: "store"},
		Items:      []order.Item{{ProductID: newID(), Name: "p", Quantity: 1, UnitPrice: decimal.RequireFromString(total)}},
		Total:      decimal.RequireFromString(total),
		Status:     status,
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestMemoryRepository_ConditionalUpdate(t *testing.T) {
	repo := order.NewMemoryRepository()
	ctx := context.Background()
	o := seedOrder(t, repo, order.StatusConfirmed, "12.50")
	k1, k2 := newID(), newID()

	assign := func(courierID uuid.UUID) order.Patch {
		return order.Patch{
			Status:                 order.StatusDelivering,
			AssignCourier:          &order.CourierAssignment{CourierID: courierID, Active: true, AssignedAt: time.Now()},
			RequireNoActiveCourier: true,
			ChangedBy:              courierID,
		}
	}

	updated, err := repo.ConditionalUpdate(ctx, o.ID, order.StatusConfirmed, assign(k1))
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivering, updated.Status)
	assert.True(t, updated.IsActiveCourier(k1))

	_, err = repo.ConditionalUpdate(ctx, o.ID, order.StatusConfirmed, assign(k2))
	assert.ErrorIs(t, err, order.ErrConflict)

	_, err = repo.ConditionalUpdate(ctx, o.ID, order.StatusDelivering, assign(k2))
	assert.ErrorIs(t, err, order.ErrConflict, "an active courier blocks a second assignment")

	_, err = repo.ConditionalUpdate(ctx, newID(), order.StatusConfirmed, assign(k2))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	history, err := repo.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := order.NewMemoryRepository()
	o := seedOrder(t, repo, order.StatusPending, "3.00")

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	got.Items[0].Quantity = 99
	got.Status = order.StatusCancelled

	again, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
	assert.Equal(t, order.StatusPending, again.Status)
}

func TestMemoryRepository_QueryPagination(t *testing.T) {
	repo := order.NewMemoryRepository()
	ctx := context.Background()
	for _, total := range []string{"30.00", "10.00", "20.00"} {
		seedOrder(t, repo, order.StatusPending, total)
	}
	seedOrder(t, repo, order.StatusCancelled, "5.00")

	pending := order.StatusPending
	orders, total, err := repo.Query(ctx,
		order.Filter{Status: &pending},
		order.Sort{Field: order.SortByTotal},
		order.Page{Page: 1, Limit: 2},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, orders, 2)
	assert.Equal(t, "10.00", orders[0].Total.StringFixed(2))
	assert.Equal(t, "20.00", orders[1].Total.StringFixed(2))

	orders, _, err = repo.Query(ctx, order.Filter{Status: &pending}, order.Sort{Field: order.SortByTotal}, order.Page{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "30.00", orders[0].Total.StringFixed(2))

	orders, _, err = repo.Query(ctx, order.Filter{Status: &pending}, order.Sort{}, order.Page{Page: 5, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryRepository_GetByNumberAndDelete(t *testing.T) {
	repo := order.NewMemoryRepository()
	ctx := context.Background()
	first := seedOrder(t, repo, order.StatusDelivered, "1.00")
	second := seedOrder(t, repo, order.StatusDelivered, "1.00")
	assert.Equal(t, first.Number+1, second.Number)

	got, err := repo.GetByNumber(ctx, second.Number)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	require.NoError(t, repo.Delete(ctx, second.ID))
	_, err = repo.GetByNumber(ctx, second.Number)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, second.ID), order.ErrOrderNotFound)
}
