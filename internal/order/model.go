package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusPreparing  Status = "preparing"
	StatusDelivering Status = "delivering"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusDelivering,
	StatusDelivered,
	StatusCancelled,
}

func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

func (s Status) String() string {
	return string(s)
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) Valid() bool {
	return slices.Contains(statuses, s)
}

// ParseStatus accepts the canonical names plus "on_the_way", which older
// clients send for delivering.
func ParseStatus(raw string) (Status, error) {
	if raw == "on_the_way" {
		return StatusDelivering, nil
	}
	s := Status(raw)
	if !s.Valid() {
		return "", validationError("unknown status %q", raw)
	}
	return s, nil
}

// StoreRef is the store an order belongs to. CityID and ZoneID are read-only
// routing hints derived from the store record.
type StoreRef struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	CityID string    `json:"city_id,omitempty"`
	ZoneID string    `json:"zone_id,omitempty"`
}

type Item struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type CourierAssignment struct {
	CourierID  uuid.UUID `json:"courier_id"`
	Active     bool      `json:"active"`
	AssignedAt time.Time `json:"assigned_at"`
}

type Order struct {
	ID               uuid.UUID           `json:"id"`
	Number           int64               `json:"number"`
	CustomerID       uuid.UUID           `json:"customer_id"`
	Store            StoreRef            `json:"store"`
	Items            []Item              `json:"items"`
	Total            decimal.Decimal     `json:"total"`
	Status           Status              `json:"status"`
	DeliveryLocation Location            `json:"delivery_location"`
	Couriers         []CourierAssignment `json:"couriers"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func (o *Order) ActiveCourier() (CourierAssignment, bool) {
	for _, c := range o.Couriers {
		if c.Active {
			return c, true
		}
	}
	return CourierAssignment{}, false
}

func (o *Order) HasCourier(courierID uuid.UUID) bool {
	for _, c := range o.Couriers {
		if c.CourierID == courierID {
			return true
		}
	}
	return false
}

func (o *Order) IsActiveCourier(courierID uuid.UUID) bool {
	c, ok := o.ActiveCourier()
	return ok && c.CourierID == courierID
}

func (o *Order) clone() *Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	cp.Couriers = slices.Clone(o.Couriers)
	return &cp
}

// StatusChange is one row of an order's audit trail.
type StatusChange struct {
	OrderID   uuid.UUID `json:"order_id"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to"`
	ChangedBy uuid.UUID `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

type CartItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateInput is a customer's cart at checkout.
type CreateInput struct {
	CustomerID       uuid.UUID
	StoreID          uuid.UUID
	Items            []CartItem
	DeliveryLocation Location
}

type UpdateInput struct {
	Status Status
}

// Patch describes a conditional write: it applies only while the order still
// has the expected status and, when RequireNoActiveCourier is set, no active
// courier.
type Patch struct {
	Status                 Status
	AssignCourier          *CourierAssignment
	RequireNoActiveCourier bool
	ChangedBy              uuid.UUID
}

type Filter struct {
	Status     *Status
	StoreIDs   []uuid.UUID
	CustomerID *uuid.UUID
	CourierID  *uuid.UUID
}

type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByNumber    SortField = "number"
	SortByTotal     SortField = "total"
	SortByStatus    SortField = "status"
)

type Sort struct {
	Field SortField
	Desc  bool
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page is 1-based. A zero Limit means no limit and is only used internally.
type Page struct {
	Page  int
	Limit int
}

func (p Page) Offset() int {
	if p.Page <= 1 || p.Limit == 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

type ListQuery struct {
	Filter Filter
	Sort   Sort
	Page   Page
}

func (q *ListQuery) normalize() error {
	if q.Page.Page == 0 {
		q.Page.Page = 1
	}
	if q.Page.Limit == 0 {
		q.Page.Limit = DefaultPageLimit
	}
	if q.Page.Page < 1 {
		return validationError("page must be >= 1, got %d", q.Page.Page)
	}
	if q.Page.Limit < 1 || q.Page.Limit > MaxPageLimit {
		return validationError("limit must be between 1 and %d, got %d", MaxPageLimit, q.Page.Limit)
	}

	switch q.Sort.Field {
	case "":
		q.Sort = Sort{Field: SortByCreatedAt, Desc: true}
	case SortByCreatedAt, SortByNumber, SortByTotal, SortByStatus:
	default:
		return validationError("unsupported sort field %q", q.Sort.Field)
	}

	if q.Filter.Status != nil && !q.Filter.Status.Valid() {
		return validationError("unknown status %q", *q.Filter.Status)
	}
	return nil
}

type ListResult struct {
	Orders []Order `json:"orders"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

type EventType string

const (
	EventCreated         EventType = "order.created"
	EventStatusChanged   EventType = "order.status_changed"
	EventCourierAssigned EventType = "order.courier_assigned"
	EventDeleted         EventType = "order.deleted"
)

func (e EventType) String() string {
	return string(e)
}

func (o *Order) String() string {
	return fmt.Sprintf("order #%d (%s) %s", o.Number, o.ID, o.Status)
}
