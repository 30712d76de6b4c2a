package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/food-delivery/internal/auth"
	"github.com/vasiliy-maslov/food-delivery/internal/channel"
	"github.com/vasiliy-maslov/food-delivery/internal/permission"
)

const (
	MessageJoinStores = "join_stores"
	MessageJoinArea   = "join_area"
)

var ErrJoinDenied = errors.New("realtime: join denied")

// ClientMessage is what a connected client may send.
type ClientMessage struct {
	Type     string      `json:"type"`
	StoreIDs []uuid.UUID `json:"store_ids,omitempty"`
	CityID   string      `json:"city_id,omitempty"`
	ZoneID   string      `json:"zone_id,omitempty"`
}

// ServerMessage acknowledges a client message.
type ServerMessage struct {
	Type     string        `json:"type"`
	Channels []channel.Key `json:"channels,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// JoinDefaults is the set of channels a connection joins right after it is
// established.
func JoinDefaults(actor auth.Actor) []channel.Key {
	switch actor.Role {
	case permission.RoleCustomer:
		return []channel.Key{channel.Customer(actor.ID)}
	case permission.RoleManager:
		keys := make([]channel.Key, 0, len(actor.StoreIDs))
		for _, id := range actor.StoreIDs {
			keys = append(keys, channel.Store(id))
		}
		return keys
	case permission.RoleCourier:
		return append([]channel.Key{channel.Couriers}, areaKeys(actor.CityID, actor.ZoneID)...)
	case permission.RoleAdmin:
		return []channel.Key{channel.Couriers}
	default:
		return nil
	}
}

func areaKeys(cityID, zoneID string) []channel.Key {
	var keys []channel.Key
	if cityID != "" {
		keys = append(keys, channel.City(cityID))
	}
	if zoneID != "" {
		keys = append(keys, channel.Zone(zoneID))
	}
	return keys
}

// Resolve turns a client message into the channels the actor may join.
// Membership is additive; deselected stores stay joined until disconnect.
func Resolve(actor auth.Actor, msg ClientMessage) ([]channel.Key, error) {
	switch msg.Type {
	case MessageJoinStores:
		if actor.Role != permission.RoleManager && actor.Role != permission.RoleAdmin {
			return nil, fmt.Errorf("%w: role %s cannot join store channels", ErrJoinDenied, actor.Role)
		}
		keys := make([]channel.Key, 0, len(msg.StoreIDs))
		for _, id := range msg.StoreIDs {
			if actor.Role == permission.RoleManager && !actor.WorksAt(id) {
				return nil, fmt.Errorf("%w: store %s is not assigned to this manager", ErrJoinDenied, id)
			}
			keys = append(keys, channel.Store(id))
		}
		return keys, nil
	case MessageJoinArea:
		if actor.Role != permission.RoleCourier && actor.Role != permission.RoleAdmin {
			return nil, fmt.Errorf("%w: role %s cannot join area channels", ErrJoinDenied, actor.Role)
		}
		return areaKeys(msg.CityID, msg.ZoneID), nil
	default:
		return nil, fmt.Errorf("realtime: unknown message type %q", msg.Type)
	}
}

func decodeClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("realtime: malformed message: %w", err)
	}
	return msg, nil
}
