package client

import "errors"

// ErrAdminRequired indicates an action reserved for the session admin.
var ErrAdminRequired = errors.New("client: admin access required")

// ErrIncorrectSecret indicates that the server rejected the admin secret.
var ErrIncorrectSecret = errors.New("client: incorrect admin secret")

// Role is the local access level of this device for the joined session.
type Role string

const (
	RoleGuest Role = "guest"
	RoleAdmin Role = "admin"
)

// Action names a class of local mutation.
type Action string

const (
	ActionEditItems     Action = "edit_items"
	ActionEditGuests    Action = "edit_guests"
	ActionAssign        Action = "assign"
	ActionEditRates     Action = "edit_rates"
	ActionRecordPayment Action = "record_payment"
)

var allActions = []Action{
	ActionEditItems,
	ActionEditGuests,
	ActionAssign,
	ActionEditRates,
	ActionRecordPayment,
}

// Allows reports whether role may perform action. Guests may only claim
// units; everything else needs the admin secret.
func Allows(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleGuest:
		return action == ActionAssign
	default:
		return false
	}
}

// Capabilities lists the actions role may perform.
func Capabilities(role Role) []Action {
	allowed := make([]Action, 0, len(allActions))
	for _, action := range allActions {
		if Allows(role, action) {
			allowed = append(allowed, action)
		}
	}
	return allowed
}
