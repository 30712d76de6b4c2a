package order

import (
	"fmt"

	"github.com/vasiliy-maslov/food-delivery/internal/permission"
)

// allowedTransitions is the full lifecycle graph. Every role-specific rule
// below is a subset of it.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusPreparing:  true,
		StatusDelivering: true,
		StatusCancelled:  true,
	},
	StatusPreparing: {
		StatusDelivering: true,
	},
	StatusDelivering: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// updateRules lists what a generic update may do per role. Nothing moves an
// order into delivering here: that edge needs a courier and only happens
// through AcceptOrder.
var updateRules = map[permission.Role]map[Status]map[Status]bool{
	permission.RoleAdmin: {
		StatusPending:    {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed:  {StatusPreparing: true, StatusCancelled: true},
		StatusDelivering: {StatusDelivered: true},
	},
	permission.RoleManager: {
		StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusPreparing: true, StatusCancelled: true},
	},
	permission.RoleCourier: {
		StatusDelivering: {StatusDelivered: true},
	},
	permission.RoleCustomer: {
		StatusPending: {StatusCancelled: true},
	},
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanTransition reports whether the lifecycle graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// CheckAccept validates store staff accepting an order.
func CheckAccept(current Status) error {
	if current != StatusPending {
		return invalidTransition(current, StatusConfirmed)
	}
	return nil
}

// CheckDeny validates store staff denying an order.
func CheckDeny(current Status) error {
	if current != StatusPending {
		return invalidTransition(current, StatusCancelled)
	}
	return nil
}

// OpenForPickup reports whether couriers may still take an order in status s.
func OpenForPickup(s Status) bool {
	return s == StatusConfirmed || s == StatusPreparing
}

// CheckAcceptDelivery validates a courier taking an order. The kitchen may
// already be preparing it.
func CheckAcceptDelivery(current Status) error {
	if !OpenForPickup(current) {
		return invalidTransition(current, StatusDelivering)
	}
	return nil
}

// CheckUpdate validates a generic status update requested by role.
func CheckUpdate(role permission.Role, current, next Status) error {
	if current.IsTerminal() || !updateRules[role][current][next] {
		return invalidTransition(current, next)
	}
	return nil
}
