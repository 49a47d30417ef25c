package lifecycle

import (
	"fmt"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/orders"
)

// Role identifies who is asking for a status change.
type Role string

const (
	RoleVendor   Role = "vendor"
	RoleCustomer Role = "customer"
)

// Actor is the party requesting a status change.
type Actor struct {
	Role       Role
	CustomerID string
}

// Vendor is the default actor; vendors may take any lifecycle edge.
func Vendor() Actor { return Actor{Role: RoleVendor} }

// Customer builds a customer actor.
func Customer(customerID string) Actor { return Actor{Role: RoleCustomer, CustomerID: customerID} }

// customerCancellable are the statuses a customer may still cancel from.
var customerCancellable = map[orders.Status]bool{
	orders.StatusNew:      true,
	orders.StatusAccepted: true,
}

// Authorize checks that actor may move o to target. It does not check the
// edge itself; Transition does.
func Authorize(actor Actor, o orders.Order, target orders.Status) error {
	switch actor.Role {
	case RoleVendor, "":
		return nil
	case RoleCustomer:
		if actor.CustomerID != o.CustomerID {
			return fmt.Errorf("customer %s does not own order %s: %w", actor.CustomerID, o.ID, apperr.ErrForbidden)
		}
		if target != orders.StatusCancelled {
			return fmt.Errorf("customers may only cancel, not move to %s: %w", target, apperr.ErrInvalidTransition)
		}
		if !customerCancellable[o.Status] {
			return fmt.Errorf("customer cancellation from %s: %w", o.Status, apperr.ErrInvalidTransition)
		}
		return nil
	default:
		return fmt.Errorf("unknown actor role %q: %w", actor.Role, apperr.ErrForbidden)
	}
}
