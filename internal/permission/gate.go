// Package permission decides whether a role may perform an action on a
// resource. Anything not listed in the matrix is denied.
package permission

type Role string

const (
	RoleCustomer Role = "customer"
	RoleManager  Role = "manager"
	RoleCourier  Role = "courier"
	RoleAdmin    Role = "admin"
)

func (r Role) String() string {
	return string(r)
}

func (r Role) Valid() bool {
	_, ok := matrix[r]
	return ok
}

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAccept Action = "accept"
)

type Resource string

const ResourceOrders Resource = "orders"

var matrix = map[Role]map[Resource]map[Action]bool{
	RoleAdmin: {
		ResourceOrders: {
			ActionCreate: true,
			ActionRead:   true,
			ActionUpdate: true,
			ActionDelete: true,
			ActionAccept: true,
		},
	},
	RoleManager: {
		ResourceOrders: {
			ActionRead:   true,
			ActionUpdate: true,
			ActionAccept: true,
		},
	},
	RoleCourier: {
		ResourceOrders: {
			ActionRead:   true,
			ActionUpdate: true,
			ActionAccept: true,
		},
	},
	RoleCustomer: {
		ResourceOrders: {
			ActionCreate: true,
			ActionRead:   true,
			ActionUpdate: true,
		},
	},
}

// Allowed is a pure lookup. Unknown roles, resources and actions yield false.
func Allowed(role Role, action Action, resource Resource) bool {
	return matrix[role][resource][action]
}
