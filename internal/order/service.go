package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/auth"
	"github.com/vasiliy-maslov/food-delivery/internal/permission"
)

// Pricer turns a cart into an unsaved order with a frozen total.
type Pricer interface {
	Price(ctx context.Context, input CreateInput) (*Order, error)
}

// Notifier is told about every committed change. It must not block and its
// failures never reach the caller.
type Notifier interface {
	OrderChanged(order *Order, event EventType)
}

// TransitionRecorder counts lifecycle actions by outcome.
type TransitionRecorder interface {
	ObserveTransition(action, result string)
}

type Service interface {
	CreateOrder(ctx context.Context, actor auth.Actor, input CreateInput) (*Order, error)
	GetOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error)
	GetOrderByNumber(ctx context.Context, actor auth.Actor, number int64) (*Order, error)
	GetOrderHistory(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]StatusChange, error)
	ListOrders(ctx context.Context, actor auth.Actor, query ListQuery) (*ListResult, error)
	ListOrdersByStores(ctx context.Context, actor auth.Actor, storeIDs []uuid.UUID) ([]Order, error)
	UpdateOrder(ctx context.Context, actor auth.Actor, id uuid.UUID, input UpdateInput) (*Order, error)
	DeleteOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	AcceptOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error)
	DenyOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error)
}

type service struct {
	orderRepo Repository
	pricer    Pricer
	notifier  Notifier
	recorder  TransitionRecorder
}

func NewService(orderRepo Repository, pricer Pricer, notifier Notifier, recorder TransitionRecorder) Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &service{
		orderRepo: orderRepo,
		pricer:    pricer,
		notifier:  notifier,
		recorder:  recorder,
	}
}

type nopNotifier struct{}

func (nopNotifier) OrderChanged(*Order, EventType) {}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, string) {}

// authorize is the gate every operation passes first. A denial is returned
// before any read.
func authorize(actor auth.Actor, action permission.Action) error {
	if !permission.Allowed(actor.Role, action, permission.ResourceOrders) {
		log.Warn().Stringer("actor_id", actor.ID).Stringer("role", actor.Role).Str("action", string(action)).Msg("service: permission denied")
		return fmt.Errorf("%w: %s may not %s orders", ErrAccessDenied, actor.Role, action)
	}
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", id).Msg("service: order not found")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order")
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return o, nil
}

// canView reports whether the actor may see the order at all.
func canView(actor auth.Actor, o *Order) bool {
	switch actor.Role {
	case permission.RoleAdmin:
		return true
	case permission.RoleCustomer:
		return o.CustomerID == actor.ID
	case permission.RoleManager:
		return actor.WorksAt(o.Store.ID)
	case permission.RoleCourier:
		return OpenForPickup(o.Status) || o.HasCourier(actor.ID)
	}
	return false
}

// canModify reports whether the actor owns the order for a generic update.
func canModify(actor auth.Actor, o *Order) bool {
	switch actor.Role {
	case permission.RoleAdmin:
		return true
	case permission.RoleCustomer:
		return o.CustomerID == actor.ID
	case permission.RoleManager:
		return actor.WorksAt(o.Store.ID)
	case permission.RoleCourier:
		return o.IsActiveCourier(actor.ID)
	}
	return false
}

func denied(actor auth.Actor, o *Order) error {
	log.Warn().Stringer("actor_id", actor.ID).Stringer("role", actor.Role).Stringer("order_id", o.ID).Msg("service: actor does not own order")
	return fmt.Errorf("%w: order %s", ErrAccessDenied, o.ID)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAccessDenied):
		return "denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "error"
	}
}

func (s *service) CreateOrder(ctx context.Context, actor auth.Actor, input CreateInput) (created *Order, err error) {
	defer func() { s.recorder.ObserveTransition("create", resultLabel(err)) }()

	if err := authorize(actor, permission.ActionCreate); err != nil {
		return nil, err
	}

	switch actor.Role {
	case permission.RoleCustomer:
		input.CustomerID = actor.ID
	default:
		if input.CustomerID == uuid.Nil {
			return nil, validationError("customer_id is required")
		}
	}

	draft, err := s.pricer.Price(ctx, input)
	if err != nil {
		log.Warn().Err(err).Stringer("store_id", input.StoreID).Msg("service: failed to price cart")
		return nil, err
	}
	draft.ID = uuid.Nil
	draft.Status = StatusPending
	draft.CustomerID = input.CustomerID
	draft.Couriers = make([]CourierAssignment, 0)

	if err := s.orderRepo.Create(ctx, draft); err != nil {
		log.Error().Err(err).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", draft.ID).Int64("number", draft.Number).Stringer("customer_id", draft.CustomerID).Str("total", draft.Total.StringFixed(2)).Msg("service: order created")
	s.notifier.OrderChanged(draft, EventCreated)
	return draft, nil
}

func (s *service) GetOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error) {
	if err := authorize(actor, permission.ActionRead); err != nil {
		return nil, err
	}

	o, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, denied(actor, o)
	}
	return o, nil
}

func (s *service) GetOrderByNumber(ctx context.Context, actor auth.Actor, number int64) (*Order, error) {
	if err := authorize(actor, permission.ActionRead); err != nil {
		return nil, err
	}

	o, err := s.orderRepo.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}
	if !canView(actor, o) {
		return nil, denied(actor, o)
	}
	return o, nil
}

func (s *service) GetOrderHistory(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]StatusChange, error) {
	o, err := s.GetOrder(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	history, err := s.orderRepo.History(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch order history: %w", err)
	}
	return history, nil
}

// scopeFilter narrows a listing to what the actor may see. It reports false
// when nothing can match.
func scopeFilter(actor auth.Actor, f *Filter) bool {
	switch actor.Role {
	case permission.RoleCustomer:
		f.CustomerID = &actor.ID
	case permission.RoleManager:
		if f.StoreIDs == nil {
			f.StoreIDs = slices.Clone(actor.StoreIDs)
		} else {
			f.StoreIDs = slices.DeleteFunc(slices.Clone(f.StoreIDs), func(id uuid.UUID) bool {
				return !actor.WorksAt(id)
			})
		}
		if len(f.StoreIDs) == 0 {
			return false
		}
	case permission.RoleCourier:
		// Couriers browse orders that are up for grabs, or their own.
		if f.Status == nil || !OpenForPickup(*f.Status) {
			f.CourierID = &actor.ID
		}
	}
	return true
}

func (s *service) ListOrders(ctx context.Context, actor auth.Actor, query ListQuery) (*ListResult, error) {
	if err := authorize(actor, permission.ActionRead); err != nil {
		return nil, err
	}
	if err := query.normalize(); err != nil {
		return nil, err
	}

	result := &ListResult{Orders: []Order{}, Page: query.Page.Page, Limit: query.Page.Limit}
	if !scopeFilter(actor, &query.Filter) {
		return result, nil
	}

	orders, total, err := s.orderRepo.Query(ctx, query.Filter, query.Sort, query.Page)
	if err != nil {
		log.Error().Err(err).Stringer("actor_id", actor.ID).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}

	result.Orders = orders
	result.Total = total
	return result, nil
}

func (s *service) ListOrdersByStores(ctx context.Context, actor auth.Actor, storeIDs []uuid.UUID) ([]Order, error) {
	if err := authorize(actor, permission.ActionRead); err != nil {
		return nil, err
	}
	if len(storeIDs) == 0 {
		return nil, validationError("at least one store id is required")
	}

	switch actor.Role {
	case permission.RoleAdmin:
	case permission.RoleManager:
		for _, id := range storeIDs {
			if !actor.WorksAt(id) {
				return nil, fmt.Errorf("%w: store %s", ErrAccessDenied, id)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s may not list store orders", ErrAccessDenied, actor.Role)
	}

	orders, _, err := s.orderRepo.Query(ctx,
		Filter{StoreIDs: slices.Clone(storeIDs)},
		Sort{Field: SortByCreatedAt, Desc: true},
		Page{},
	)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list orders by stores")
		return nil, fmt.Errorf("service: failed to list orders by stores: %w", err)
	}
	return orders, nil
}

func (s *service) UpdateOrder(ctx context.Context, actor auth.Actor, id uuid.UUID, input UpdateInput) (updated *Order, err error) {
	defer func() { s.recorder.ObserveTransition("update", resultLabel(err)) }()

	if err := authorize(actor, permission.ActionUpdate); err != nil {
		return nil, err
	}
	if !input.Status.Valid() {
		return nil, validationError("unknown status %q", input.Status)
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(actor, current) {
		return nil, denied(actor, current)
	}

	if err := CheckUpdate(actor.Role, current.Status, input.Status); err != nil {
		log.Warn().
			Stringer("order_id", current.ID).
			Stringer("current_status", current.Status).
			Stringer("new_status", input.Status).
			Stringer("role", actor.Role).
			Msg("service: invalid status transition attempt")
		return nil, err
	}

	updated, err = s.orderRepo.ConditionalUpdate(ctx, id, current.Status, Patch{
		Status:    input.Status,
		ChangedBy: actor.ID,
	})
	if err != nil {
		return nil, s.writeError(err, id, "update")
	}

	log.Info().Stringer("order_id", id).Stringer("old_status", current.Status).Stringer("new_status", updated.Status).Msg("service: order status updated")
	s.notifier.OrderChanged(updated, EventStatusChanged)
	return updated, nil
}

func (s *service) DeleteOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (err error) {
	defer func() { s.recorder.ObserveTransition("delete", resultLabel(err)) }()

	if err := authorize(actor, permission.ActionDelete); err != nil {
		return err
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.IsTerminal() {
		return fmt.Errorf("%w: only delivered or cancelled orders can be deleted, order is %s", ErrInvalidTransition, current.Status)
	}

	if err := s.orderRepo.Delete(ctx, id); err != nil {
		return s.writeError(err, id, "delete")
	}

	log.Info().Stringer("order_id", id).Stringer("actor_id", actor.ID).Msg("service: order deleted")
	s.notifier.OrderChanged(current, EventDeleted)
	return nil
}

// AcceptOrder means "store accepts" for store staff and "courier takes it"
// for couriers.
func (s *service) AcceptOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Order, error) {
	if err := authorize(actor, permission.ActionAccept); err != nil {
		s.recorder.ObserveTransition("accept", resultLabel(err))
		return nil, err
	}

	if actor.Role == permission.RoleCourier {
		return s.acceptDelivery(ctx, actor, id)
	}
	return s.acceptByStore(ctx, actor, id)
}

func (s *service) acceptByStore(ctx context.Context, actor auth.Actor, id uuid.UUID) (updated *Order, err error) {
	defer func() { s.recorder.ObserveTransition("accept", resultLabel(err)) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(actor, current) {
		return nil, denied(actor, current)
	}
	if err := CheckAccept(current.Status); err != nil {
		return nil, err
	}

	updated, err = s.orderRepo.ConditionalUpdate(ctx, id, StatusPending, Patch{
		Status:    StatusConfirmed,
		ChangedBy: actor.ID,
	})
	if err != nil {
		return nil, s.writeError(err, id, "accept")
	}

	log.Info().Stringer("order_id", id).Stringer("actor_id", actor.ID).Msg("service: order accepted by store")
	s.notifier.OrderChanged(updated, EventStatusChanged)
	return updated, nil
}

func (s *service) acceptDelivery(ctx context.Context, actor auth.Actor, id uuid.UUID) (updated *Order, err error) {
	defer func() { s.recorder.ObserveTransition("accept_delivery", resultLabel(err)) }()

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.HasCourier(actor.ID) {
		return nil, ErrAlreadyAssigned
	}
	if _, taken := current.ActiveCourier(); taken && current.Status == StatusDelivering {
		return nil, ErrOrderNoLongerAvailable
	}
	if err := CheckAcceptDelivery(current.Status); err != nil {
		return nil, err
	}

	updated, err = s.orderRepo.ConditionalUpdate(ctx, id, current.Status, Patch{
		Status: StatusDelivering,
		AssignCourier: &CourierAssignment{
			CourierID:  actor.ID,
			Active:     true,
			AssignedAt: time.Now().UTC(),
		},
		RequireNoActiveCourier: true,
		ChangedBy:              actor.ID,
	})
	if err != nil {
		return nil, s.writeError(err, id, "accept_delivery")
	}

	log.Info().Stringer("order_id", id).Stringer("courier_id", actor.ID).Msg("service: courier accepted delivery")
	s.notifier.OrderChanged(updated, EventCourierAssigned)
	return updated, nil
}

func (s *service) DenyOrder(ctx context.Context, actor auth.Actor, id uuid.UUID) (updated *Order, err error) {
	defer func() { s.recorder.ObserveTransition("deny", resultLabel(err)) }()

	if err := authorize(actor, permission.ActionAccept); err != nil {
		return nil, err
	}
	if actor.Role != permission.RoleManager && actor.Role != permission.RoleAdmin {
		return nil, fmt.Errorf("%w: only store staff can deny orders", ErrAccessDenied)
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canModify(actor, current) {
		return nil, denied(actor, current)
	}
	if err := CheckDeny(current.Status); err != nil {
		return nil, err
	}

	updated, err = s.orderRepo.ConditionalUpdate(ctx, id, StatusPending, Patch{
		Status:    StatusCancelled,
		ChangedBy: actor.ID,
	})
	if err != nil {
		return nil, s.writeError(err, id, "deny")
	}

	log.Info().Stringer("order_id", id).Stringer("actor_id", actor.ID).Msg("service: order denied by store")
	s.notifier.OrderChanged(updated, EventStatusChanged)
	return updated, nil
}

// writeError passes domain errors through and wraps infrastructure failures.
func (s *service) writeError(err error, id uuid.UUID, action string) error {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return ErrOrderNotFound
	case errors.Is(err, ErrConflict):
		log.Warn().Stringer("order_id", id).Str("action", action).Msg("service: order changed concurrently")
		return ErrConflict
	}
	log.Error().Err(err).Stringer("order_id", id).Str("action", action).Msg("service: failed to write order")
	return fmt.Errorf("service: failed to %s order: %w", action, err)
}
