package notify

import (
	"github.com/vasiliy-maslov/food-delivery/internal/channel"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

// ChannelsFor is the single rule deciding who hears about an order: its
// customer, its store, all couriers, and the store's city and zone when known.
// City and zone are separate channels; a courier in both receives the event on
// each.
func ChannelsFor(o *order.Order) []channel.Key {
	keys := []channel.Key{
		channel.Customer(o.CustomerID),
		channel.Store(o.Store.ID),
		channel.Couriers,
	}
	if o.Store.CityID != "" {
		keys = append(keys, channel.City(o.Store.CityID))
	}
	if o.Store.ZoneID != "" {
		keys = append(keys, channel.Zone(o.Store.ZoneID))
	}
	return keys
}
