// Package access holds the single authorization policy for stock and delivery
// operations. Handlers and services ask it instead of comparing roles inline.
package access

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

// Action is an operation a caller may attempt.
type Action string

const (
	ActionStockRead      Action = "stock.read"
	ActionStockWrite     Action = "stock.write"
	ActionStockReserve   Action = "stock.reserve"
	ActionDeliveryAssign Action = "delivery.assign"
	ActionDeliveryRead   Action = "delivery.read"
	ActionDeliveryUpdate Action = "delivery.update"
	ActionSyncInspect    Action = "sync.inspect"
)

// Relationship describes how the caller relates to the resource.
type Relationship string

const (
	RelationshipNone     Relationship = "none"
	RelationshipAssigned Relationship = "assigned"
)

type scope int

const (
	scopeAny scope = iota + 1
	scopeAssigned
)

var policy = map[enums.Role]map[Action]scope{
	enums.RoleAdmin: {
		ActionStockRead:      scopeAny,
		ActionStockWrite:     scopeAny,
		ActionStockReserve:   scopeAny,
		ActionDeliveryAssign: scopeAny,
		ActionDeliveryRead:   scopeAny,
		ActionDeliveryUpdate: scopeAny,
		ActionSyncInspect:    scopeAny,
	},
	enums.RoleStaff: {
		ActionStockRead:      scopeAny,
		ActionStockWrite:     scopeAny,
		ActionStockReserve:   scopeAny,
		ActionDeliveryAssign: scopeAny,
		ActionDeliveryRead:   scopeAny,
		ActionDeliveryUpdate: scopeAssigned,
	},
	enums.RoleShipper: {
		ActionDeliveryRead:   scopeAssigned,
		ActionDeliveryUpdate: scopeAssigned,
	},
	enums.RoleService: {
		ActionStockRead:    scopeAny,
		ActionStockReserve: scopeAny,
		ActionDeliveryRead: scopeAny,
	},
}

// Actor is the authenticated caller.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

// RelationshipTo reports whether the actor is the resource's assignee.
func (a Actor) RelationshipTo(assignee uuid.UUID) Relationship {
	if a.UserID != uuid.Nil && a.UserID == assignee {
		return RelationshipAssigned
	}
	return RelationshipNone
}

// Allowed is the policy decision for (role, relationship, action).
func Allowed(role enums.Role, rel Relationship, action Action) bool {
	actions, ok := policy[role]
	if !ok {
		return false
	}
	switch actions[action] {
	case scopeAny:
		return true
	case scopeAssigned:
		return rel == RelationshipAssigned
	default:
		return false
	}
}

// Check returns a FORBIDDEN error when the policy denies the action.
func Check(actor Actor, rel Relationship, action Action) error {
	if Allowed(actor.Role, rel, action) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("role %s may not perform %s", actor.Role, action)).
		WithDetails(map[string]any{"action": action, "role": actor.Role, "relationship": rel})
}

// RolesFor lists the roles that may perform action on any resource, for
// route-level gating before the resource is loaded.
func RolesFor(action Action) []enums.Role {
	var roles []enums.Role
	for _, role := range []enums.Role{enums.RoleAdmin, enums.RoleStaff, enums.RoleShipper, enums.RoleService} {
		if _, ok := policy[role][action]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
