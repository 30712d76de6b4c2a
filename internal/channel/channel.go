// Package channel names the push channels orders are published on.
package channel

import (
	"strings"

	"github.com/gofrs/uuid"
)

type Key string

// Couriers is the global broadcast every courier listens on.
const Couriers Key = "couriers"

func Customer(id uuid.UUID) Key {
	return Key("customer:" + id.String())
}

func Store(id uuid.UUID) Key {
	return Key("store:" + id.String())
}

func City(id string) Key {
	return Key("city:" + id)
}

func Zone(id string) Key {
	return Key("zone:" + id)
}

func (k Key) String() string {
	return string(k)
}

// Kind is the prefix before the colon, e.g. "store". It is bounded and safe
// to use as a metric label.
func (k Key) Kind() string {
	kind, _, _ := strings.Cut(string(k), ":")
	return kind
}
