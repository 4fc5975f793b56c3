package bill

import "github.com/google/uuid"

const (
	itemIDPrefix  = "item-"
	guestIDPrefix = "guest-"
)

// NewItemID returns a fresh item identifier.
func NewItemID() string {
	return itemIDPrefix + uuid.NewString()
}

// NewGuestID returns a fresh guest identifier.
func NewGuestID() string {
	return guestIDPrefix + uuid.NewString()
}
