package auth

import (
	"context"
	"slices"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/food-delivery/internal/permission"
)

// Actor is the authenticated caller. StoreIDs is set for store staff,
// CityID and ZoneID are routing hints for couriers.
type Actor struct {
	ID       uuid.UUID
	Role     permission.Role
	StoreIDs []uuid.UUID
	CityID   string
	ZoneID   string
}

func (a Actor) WorksAt(storeID uuid.UUID) bool {
	return slices.Contains(a.StoreIDs, storeID)
}

type contextKey string

const actorCtxKey contextKey = "actor"

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorCtxKey).(Actor)
	return actor, ok
}
