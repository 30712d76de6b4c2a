package cart

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

// Converter prices a cart against the current catalog. The resulting order
// carries per-item unit prices and a total that later catalog changes do not
// touch.
type Converter struct {
	catalog catalog.Lookup
}

func NewConverter(lookup catalog.Lookup) *Converter {
	return &Converter{catalog: lookup}
}

func (c *Converter) Price(ctx context.Context, input order.CreateInput) (*order.Order, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	store, err := c.catalog.GetStore(ctx, input.StoreID)
	if err != nil {
		if errors.Is(err, catalog.ErrStoreNotFound) {
			return nil, fmt.Errorf("%w: %s", order.ErrStoreNotFound, input.StoreID)
		}
		return nil, fmt.Errorf("cart: failed to load store %s: %w", input.StoreID, err)
	}

	draft := &order.Order{
		CustomerID: input.CustomerID,
		Store: order.StoreRef{
			ID:     store.ID,
			Name:   store.Name,
			CityID: store.CityID,
			ZoneID: store.ZoneID,
		},
		Items:            make([]order.Item, 0, len(input.Items)),
		Total:            decimal.Zero,
		DeliveryLocation: input.DeliveryLocation,
	}

	for _, line := range input.Items {
		price, err := c.catalog.GetPriceAndAvailability(ctx, line.ProductID, input.StoreID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				log.Warn().Stringer("product_id", line.ProductID).Stringer("store_id", input.StoreID).Msg("cart: product not in store catalog")
				return nil, fmt.Errorf("%w: %s", order.ErrProductNotFound, line.ProductID)
			}
			return nil, fmt.Errorf("cart: failed to price product %s: %w", line.ProductID, err)
		}
		if !price.Available {
			return nil, fmt.Errorf("%w: product %s is unavailable", order.ErrValidation, line.ProductID)
		}

		item := order.Item{
			ProductID: line.ProductID,
			Name:      price.Name,
			Quantity:  line.Quantity,
			UnitPrice: price.Price,
		}
		draft.Items = append(draft.Items, item)
		draft.Total = draft.Total.Add(item.Subtotal())
	}

	return draft, nil
}

func validate(input order.CreateInput) error {
	if input.StoreID == uuid.Nil {
		return fmt.Errorf("%w: store_id is required", order.ErrValidation)
	}
	if len(input.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", order.ErrValidation)
	}
	for _, line := range input.Items {
		if line.ProductID == uuid.Nil {
			return fmt.Errorf("%w: product_id is required", order.ErrValidation)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: quantity for product %s must be at least 1", order.ErrValidation, line.ProductID)
		}
	}
	loc := input.DeliveryLocation
	if math.Abs(loc.Lat) > 90 || math.Abs(loc.Lng) > 180 {
		return fmt.Errorf("%w: delivery location is out of range", order.ErrValidation)
	}
	return nil
}
