package order_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-delivery/internal/auth"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
	"github.com/vasiliy-maslov/food-delivery/internal/permission"
)

type stubPricer struct {
	stores map[uuid.UUID]order.StoreRef
	prices map[uuid.UUID]decimal.Decimal
}

func (p *stubPricer) Price(_ context.Context, in order.CreateInput) (*order.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", order.ErrValidation)
	}
	store, ok := p.stores[in.StoreID]
	if !ok {
		return nil, order.ErrStoreNotFound
	}

	o := &order.Order{Store: store, DeliveryLocation: in.DeliveryLocation, Total: decimal.Zero}
	for _, ci := range in.Items {
		price, ok := p.prices[ci.ProductID]
		if !ok {
			return nil, order.ErrProductNotFound
		}
		item := order.Item{ProductID: ci.ProductID, Name: "product", Quantity: ci.Quantity, UnitPrice: price}
		o.Items = append(o.Items, item)
		o.Total = o.Total.Add(item.Subtotal())
	}
	return o, nil
}

type recordedEvent struct {
	orderID uuid.UUID
	status  order.Status
	event   order.EventType
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) OrderChanged(o *order.Order, event order.EventType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{orderID: o.ID, status: o.Status, event: event})
}

func (n *recordingNotifier) last() recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fixture struct {
	svc      order.Service
	repo     *order.MemoryRepository
	notifier *recordingNotifier

	store    order.StoreRef
	other    order.StoreRef
	p1, p2   uuid.UUID
	customer auth.Actor
	manager  auth.Actor
	admin    auth.Actor
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:     order.NewMemoryRepository(),
		notifier: &recordingNotifier{},
		store:    order.StoreRef{ID: newID(), Name: "Pizza Place", CityID: "almaty", ZoneID: "z-1"},
		other:    order.StoreRef{ID: newID(), Name: "Sushi Bar"},
		p1:       newID(),
		p2:       newID(),
	}
	pricer := &stubPricer{
		stores: map[uuid.UUID]order.StoreRef{f.store.ID: f.store, f.other.ID: f.other},
		prices: map[uuid.UUID]decimal.Decimal{
			f.p1: decimal.RequireFromString("5.00"),
			f.p2: decimal.RequireFromString("10.00"),
		},
	}
	f.svc = order.NewService(f.repo, pricer, f.notifier, nil)
	f.customer = auth.Actor{ID: newID(), Role: permission.RoleCustomer}
	f.manager = auth.Actor{ID: newID(), Role: permission.RoleManager, StoreIDs: []uuid.UUID{f.store.ID}}
	f.admin = auth.Actor{ID: newID(), Role: permission.RoleAdmin}
	return f
}

func courier() auth.Actor {
	return auth.Actor{ID: newID(), Role: permission.RoleCourier}
}

func (f *fixture) placeOrder(t *testing.T, storeID uuid.UUID) *order.Order {
	t.Helper()
	created, err := f.svc.CreateOrder(context.Background(), f.customer, order.CreateInput{
		StoreID: storeID,
		Items: []order.CartItem{
			{ProductID: f.p1, Quantity: 2},
			{ProductID: f.p2, Quantity: 1},
		},
		DeliveryLocation: order.Location{Lat: 43.24, Lng: 76.89, Address: "Abay 1"},
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) confirmedOrder(t *testing.T) *order.Order {
	t.Helper()
	o := f.placeOrder(t, f.store.ID)
	confirmed, err := f.svc.AcceptOrder(context.Background(), f.manager, o.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusConfirmed, confirmed.Status)
	return confirmed
}

func TestService_CreateOrder(t *testing.T) {
	f := newFixture(t)

	created := f.placeOrder(t, f.store.ID)

	assert.Equal(t, order.StatusPending, created.Status)
	assert.Equal(t, "20.00", created.Total.StringFixed(2))
	assert.Equal(t, f.customer.ID, created.CustomerID)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Positive(t, created.Number)
	assert.Empty(t, created.Couriers)
	assert.Equal(t, recordedEvent{orderID: created.ID, status: order.StatusPending, event: order.EventCreated}, f.notifier.last())
}

func TestService_CreateOrder_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   auth.Actor
		input   order.CreateInput
		wantErr error
	}{
		{
			name:    "empty_cart",
			actor:   f.customer,
			input:   order.CreateInput{StoreID: f.store.ID},
			wantErr: order.ErrValidation,
		},
		{
			name:    "unknown_product",
			actor:   f.customer,
			input:   order.CreateInput{StoreID: f.store.ID, Items: []order.CartItem{{ProductID: newID(), Quantity: 1}}},
			wantErr: order.ErrProductNotFound,
		},
		{
			name:    "admin_without_customer",
			actor:   f.admin,
			input:   order.CreateInput{StoreID: f.store.ID, Items: []order.CartItem{{ProductID: f.p1, Quantity: 1}}},
			wantErr: order.ErrValidation,
		},
		{
			name:    "courier_cannot_create",
			actor:   courier(),
			input:   order.CreateInput{StoreID: f.store.ID, Items: []order.CartItem{{ProductID: f.p1, Quantity: 1}}},
			wantErr: order.ErrAccessDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateOrder(ctx, tt.actor, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, f.notifier.count(), "failed creates must not notify")
}

func TestService_CreateOrder_UnknownProductIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(), f.customer, order.CreateInput{
		StoreID: f.store.ID,
		Items:   []order.CartItem{{ProductID: newID(), Quantity: 1}},
	})
	assert.ErrorIs(t, err, order.ErrNotFound)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, o *order.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) GetByNumber(ctx context.Context, number int64) (*order.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) Query(ctx context.Context, filter order.Filter, sort order.Sort, page order.Page) ([]order.Order, int, error) {
	args := m.Called(ctx, filter, sort, page)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]order.Order), args.Int(1), args.Error(2)
}

func (m *MockRepository) ConditionalUpdate(ctx context.Context, id uuid.UUID, expected order.Status, patch order.Patch) (*order.Order, error) {
	args := m.Called(ctx, id, expected, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) History(ctx context.Context, id uuid.UUID) ([]order.StatusChange, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.StatusChange), args.Error(1)
}

func TestService_GateDeniesBeforeAnyRead(t *testing.T) {
	customer := auth.Actor{ID: newID(), Role: permission.RoleCustomer}
	manager := auth.Actor{ID: newID(), Role: permission.RoleManager}
	guest := auth.Actor{ID: newID(), Role: permission.Role("guest")}
	id := newID()

	tests := []struct {
		name string
		call func(svc order.Service) error
	}{
		{"customer_accept", func(svc order.Service) error {
			_, err := svc.AcceptOrder(context.Background(), customer, id)
			return err
		}},
		{"customer_deny", func(svc order.Service) error {
			_, err := svc.DenyOrder(context.Background(), customer, id)
			return err
		}},
		{"customer_delete", func(svc order.Service) error {
			return svc.DeleteOrder(context.Background(), customer, id)
		}},
		{"manager_delete", func(svc order.Service) error {
			return svc.DeleteOrder(context.Background(), manager, id)
		}},
		{"manager_create", func(svc order.Service) error {
			_, err := svc.CreateOrder(context.Background(), manager, order.CreateInput{})
			return err
		}},
		{"guest_read", func(svc order.Service) error {
			_, err := svc.GetOrder(context.Background(), guest, id)
			return err
		}},
		{"guest_list", func(svc order.Service) error {
			_, err := svc.ListOrders(context.Background(), guest, order.ListQuery{})
			return err
		}},
		{"guest_update", func(svc order.Service) error {
			_, err := svc.UpdateOrder(context.Background(), guest, id, order.UpdateInput{Status: order.StatusCancelled})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			svc := order.NewService(mockRepo, &stubPricer{}, nil, nil)

			err := tt.call(svc)

			assert.ErrorIs(t, err, order.ErrAccessDenied)
			mockRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
			mockRepo.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestService_StoreAcceptAndDeny(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("accept_pending", func(t *testing.T) {
		o := f.placeOrder(t, f.store.ID)
		updated, err := f.svc.AcceptOrder(ctx, f.manager, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusConfirmed, updated.Status)
		assert.Equal(t, order.EventStatusChanged, f.notifier.last().event)
	})

	t.Run("deny_pending", func(t *testing.T) {
		o := f.placeOrder(t, f.store.ID)
		updated, err := f.svc.DenyOrder(ctx, f.manager, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, updated.Status)
	})

	t.Run("deny_confirmed_is_invalid", func(t *testing.T) {
		o := f.confirmedOrder(t)
		_, err := f.svc.DenyOrder(ctx, f.manager, o.ID)
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	})

	t.Run("accept_twice_is_invalid", func(t *testing.T) {
		o := f.confirmedOrder(t)
		_, err := f.svc.AcceptOrder(ctx, f.manager, o.ID)
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	})

	t.Run("foreign_store_manager", func(t *testing.T) {
		o := f.placeOrder(t, f.other.ID)
		_, err := f.svc.AcceptOrder(ctx, f.manager, o.ID)
		assert.ErrorIs(t, err, order.ErrAccessDenied)
	})

	t.Run("courier_cannot_deny", func(t *testing.T) {
		o := f.placeOrder(t, f.store.ID)
		_, err := f.svc.DenyOrder(ctx, courier(), o.ID)
		assert.ErrorIs(t, err, order.ErrAccessDenied)
	})

	t.Run("unknown_order", func(t *testing.T) {
		_, err := f.svc.AcceptOrder(ctx, f.manager, newID())
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})
}

func TestService_DeniedOrderCannotBeDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.placeOrder(t, f.store.ID)
	_, err := f.svc.DenyOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)

	_, err = f.svc.AcceptOrder(ctx, courier(), o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestService_AcceptDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k1, k2 := courier(), courier()

	o := f.confirmedOrder(t)

	updated, err := f.svc.AcceptOrder(ctx, k1, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivering, updated.Status)
	require.Len(t, updated.Couriers, 1)
	assert.Equal(t, k1.ID, updated.Couriers[0].CourierID)
	assert.True(t, updated.Couriers[0].Active)
	assert.Equal(t, order.EventCourierAssigned, f.notifier.last().event)

	_, err = f.svc.AcceptOrder(ctx, k2, o.ID)
	assert.ErrorIs(t, err, order.ErrOrderNoLongerAvailable)

	_, err = f.svc.AcceptOrder(ctx, k1, o.ID)
	assert.ErrorIs(t, err, order.ErrAlreadyAssigned)

	got, err := f.svc.GetOrder(ctx, f.admin, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Couriers, 1, "re-acceptance must not add a second record")
}

func TestService_AcceptDelivery_PendingIsInvalid(t *testing.T) {
	f := newFixture(t)

	o := f.placeOrder(t, f.store.ID)
	_, err := f.svc.AcceptOrder(context.Background(), courier(), o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestService_AcceptDelivery_ConcurrentCouriers(t *testing.T) {
	f := newFixture(t)
	o := f.confirmedOrder(t)
	before := f.notifier.count()

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AcceptOrder(context.Background(), courier(), o.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, order.ErrConflict):
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflict)
	assert.Equal(t, before+1, f.notifier.count(), "only the winner publishes")

	got, err := f.repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivering, got.Status)
	assert.Len(t, got.Couriers, 1)
}

func TestService_UpdateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("customer_cancels_pending", func(t *testing.T) {
		o := f.placeOrder(t, f.store.ID)
		updated, err := f.svc.UpdateOrder(ctx, f.customer, o.ID, order.UpdateInput{Status: order.StatusCancelled})
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, updated.Status)
	})

	t.Run("customer_cannot_cancel_confirmed", func(t *testing.T) {
		o := f.confirmedOrder(t)
		_, err := f.svc.UpdateOrder(ctx, f.customer, o.ID, order.UpdateInput{Status: order.StatusCancelled})
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	})

	t.Run("other_customer", func(t *testing.T) {
		o := f.placeOrder(t, f.store.ID)
		stranger := auth.Actor{ID: newID(), Role: permission.RoleCustomer}
		_, err := f.svc.UpdateOrder(ctx, stranger, o.ID, order.UpdateInput{Status: order.StatusCancelled})
		assert.ErrorIs(t, err, order.ErrAccessDenied)
	})

	t.Run("full_lifecycle", func(t *testing.T) {
		k := courier()

		o2 := f.confirmedOrder(t)
		_, err := f.svc.AcceptOrder(ctx, k, o2.ID)
		require.NoError(t, err)

		_, err = f.svc.UpdateOrder(ctx, courier(), o2.ID, order.UpdateInput{Status: order.StatusDelivered})
		assert.ErrorIs(t, err, order.ErrAccessDenied, "only the assigned courier delivers")

		delivered, err := f.svc.UpdateOrder(ctx, k, o2.ID, order.UpdateInput{Status: order.StatusDelivered})
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, delivered.Status)

		_, err = f.svc.UpdateOrder(ctx, f.admin, o2.ID, order.UpdateInput{Status: order.StatusPending})
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	})

	t.Run("through_preparing", func(t *testing.T) {
		o := f.confirmedOrder(t)
		k := courier()

		prepared, err := f.svc.UpdateOrder(ctx, f.manager, o.ID, order.UpdateInput{Status: order.StatusPreparing})
		require.NoError(t, err)
		assert.Equal(t, order.StatusPreparing, prepared.Status)

		_, err = f.svc.UpdateOrder(ctx, f.manager, o.ID, order.UpdateInput{Status: order.StatusDelivering})
		assert.ErrorIs(t, err, order.ErrInvalidTransition, "no hand-off without a courier")

		got, err := f.svc.GetOrder(ctx, k, o.ID)
		require.NoError(t, err, "couriers see orders being prepared")
		assert.Equal(t, order.StatusPreparing, got.Status)

		taken, err := f.svc.AcceptOrder(ctx, k, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivering, taken.Status)
		require.Len(t, taken.Couriers, 1)
		assert.Equal(t, k.ID, taken.Couriers[0].CourierID)

		delivered, err := f.svc.UpdateOrder(ctx, k, o.ID, order.UpdateInput{Status: order.StatusDelivered})
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, delivered.Status)
	})

	t.Run("unknown_status", func(t *testing.T) {
		o := f.placeOrder(t, f.store.ID)
		_, err := f.svc.UpdateOrder(ctx, f.admin, o.ID, order.UpdateInput{Status: "lost"})
		assert.ErrorIs(t, err, order.ErrValidation)
	})
}

func TestService_DeleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.placeOrder(t, f.store.ID)
	err := f.svc.DeleteOrder(ctx, f.admin, o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = f.svc.DenyOrder(ctx, f.manager, o.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrder(ctx, f.admin, o.ID))
	assert.Equal(t, order.EventDeleted, f.notifier.last().event)

	_, err = f.svc.GetOrder(ctx, f.admin, o.ID)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_ListOrders_Scoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.placeOrder(t, f.store.ID)
	foreign := f.placeOrder(t, f.other.ID)

	otherCustomer := auth.Actor{ID: newID(), Role: permission.RoleCustomer}
	res, err := f.svc.ListOrders(ctx, otherCustomer, order.ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, res.Orders)

	res, err = f.svc.ListOrders(ctx, f.customer, order.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, order.DefaultPageLimit, res.Limit)

	res, err = f.svc.ListOrders(ctx, f.manager, order.ListQuery{})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, mine.ID, res.Orders[0].ID)

	res, err = f.svc.ListOrders(ctx, f.manager, order.ListQuery{Filter: order.Filter{StoreIDs: []uuid.UUID{f.other.ID}}})
	require.NoError(t, err)
	assert.Empty(t, res.Orders, "manager cannot widen the filter to foreign stores")

	res, err = f.svc.ListOrders(ctx, f.admin, order.ListQuery{Sort: order.Sort{Field: order.SortByNumber}})
	require.NoError(t, err)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, mine.ID, res.Orders[0].ID)
	assert.Equal(t, foreign.ID, res.Orders[1].ID)

	_, err = f.svc.ListOrders(ctx, f.admin, order.ListQuery{Page: order.Page{Limit: 1000}})
	assert.ErrorIs(t, err, order.ErrValidation)

	_, err = f.svc.ListOrders(ctx, f.admin, order.ListQuery{Sort: order.Sort{Field: "customer"}})
	assert.ErrorIs(t, err, order.ErrValidation)
}

func TestService_ListOrders_CourierSeesAvailableAndOwn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := courier()

	available := f.confirmedOrder(t)
	taken := f.confirmedOrder(t)
	_, err := f.svc.AcceptOrder(ctx, k, taken.ID)
	require.NoError(t, err)
	f.placeOrder(t, f.store.ID)

	confirmed := order.StatusConfirmed
	res, err := f.svc.ListOrders(ctx, courier(), order.ListQuery{Filter: order.Filter{Status: &confirmed}})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, available.ID, res.Orders[0].ID)

	res, err = f.svc.ListOrders(ctx, k, order.ListQuery{})
	require.NoError(t, err)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, taken.ID, res.Orders[0].ID)
}

func TestService_ListOrdersByStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine := f.placeOrder(t, f.store.ID)
	f.placeOrder(t, f.other.ID)

	orders, err := f.svc.ListOrdersByStores(ctx, f.manager, []uuid.UUID{f.store.ID})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, mine.ID, orders[0].ID)

	_, err = f.svc.ListOrdersByStores(ctx, f.manager, []uuid.UUID{f.store.ID, f.other.ID})
	assert.ErrorIs(t, err, order.ErrAccessDenied)

	_, err = f.svc.ListOrdersByStores(ctx, f.customer, []uuid.UUID{f.store.ID})
	assert.ErrorIs(t, err, order.ErrAccessDenied)

	_, err = f.svc.ListOrdersByStores(ctx, f.admin, nil)
	assert.ErrorIs(t, err, order.ErrValidation)

	orders, err = f.svc.ListOrdersByStores(ctx, f.admin, []uuid.UUID{f.store.ID, f.other.ID})
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestService_GetOrderByNumberAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.confirmedOrder(t)

	got, err := f.svc.GetOrderByNumber(ctx, f.customer, o.Number)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.GetOrderByNumber(ctx, f.customer, o.Number+100)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	history, err := f.svc.GetOrderHistory(ctx, f.manager, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, order.StatusPending, history[0].To)
	assert.Equal(t, order.StatusPending, history[1].From)
	assert.Equal(t, order.StatusConfirmed, history[1].To)
	assert.Equal(t, f.manager.ID, history[1].ChangedBy)

	stranger := auth.Actor{ID: newID(), Role: permission.RoleCustomer}
	_, err = f.svc.GetOrderHistory(ctx, stranger, o.ID)
	assert.ErrorIs(t, err, order.ErrAccessDenied)
}
