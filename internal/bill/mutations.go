package bill

import "fmt"

// Mutations are pure: they return fresh slices and never alias their inputs.

// ItemEdit names the item fields an edit replaces. Nil fields are untouched.
type ItemEdit struct {
	Name     *string
	Price    *float64
	Quantity *int
}

// AddItem appends a new item. A missing ID is generated and a zero quantity
// defaults to one.
func AddItem(items []Item, item Item) ([]Item, Item, error) {
	name, err := cleanName(item.Name)
	if err != nil {
		return nil, Item{}, err
	}
	if !isFiniteNonNegative(item.Price) {
		return nil, Item{}, fmt.Errorf("%w: %v", ErrInvalidPrice, item.Price)
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	if item.Quantity < 1 || item.Quantity > MaxQuantity {
		return nil, Item{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, item.Quantity)
	}
	if item.ID == "" {
		item.ID = NewItemID()
	}
	item.Name = name
	item = NormalizeItem(item)

	out := CloneItems(items)
	out = append(out, item)
	return out, item, nil
}

// UpdateItem applies an edit to the item with itemID.
func UpdateItem(items []Item, itemID string, edit ItemEdit) ([]Item, error) {
	index := findItem(items, itemID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	out := CloneItems(items)
	item := out[index]
	if edit.Name != nil {
		name, err := cleanName(*edit.Name)
		if err != nil {
			return nil, err
		}
		item.Name = name
	}
	if edit.Price != nil {
		if !isFiniteNonNegative(*edit.Price) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, *edit.Price)
		}
		item.Price = *edit.Price
	}
	if edit.Quantity != nil {
		resized, err := resize(item, *edit.Quantity)
		if err != nil {
			return nil, err
		}
		item = resized
	}
	out[index] = item
	return out, nil
}

// RemoveItem drops the item with itemID.
func RemoveItem(items []Item, itemID string) ([]Item, error) {
	index := findItem(items, itemID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	out := make([]Item, 0, len(items)-1)
	for position, item := range items {
		if position == index {
			continue
		}
		out = append(out, item)
	}
	return CloneItems(out), nil
}

// SetQuantity changes an item's quantity. Decreasing truncates the trailing
// units, discarding their assignments; increasing appends empty units.
func SetQuantity(items []Item, itemID string, quantity int) ([]Item, error) {
	index := findItem(items, itemID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	out := CloneItems(items)
	resized, err := resize(out[index], quantity)
	if err != nil {
		return nil, err
	}
	out[index] = resized
	return out, nil
}

func resize(item Item, quantity int) (Item, error) {
	if quantity < 1 || quantity > MaxQuantity {
		return Item{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	item = NormalizeItem(item)
	if len(item.AssignedTo) > quantity {
		item.AssignedTo = item.AssignedTo[:quantity]
	}
	for len(item.AssignedTo) < quantity {
		item.AssignedTo = append(item.AssignedTo, Unit{})
	}
	item.Quantity = quantity
	return item, nil
}

// ToggleAssignment adds guestID to the unit at unitIndex when absent and
// removes it when present. The assignment list is padded to cover the unit
// first. Adding requires the guest to exist in guests; removing does not.
func ToggleAssignment(items []Item, guests []Guest, itemID, guestID string, unitIndex int) ([]Item, error) {
	index := findItem(items, itemID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	quantity := items[index].Quantity
	if quantity < 1 {
		quantity = 1
	}
	if unitIndex < 0 || unitIndex >= quantity {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidUnit, unitIndex, quantity)
	}

	out := CloneItems(items)
	item := out[index]
	for len(item.AssignedTo) <= unitIndex {
		item.AssignedTo = append(item.AssignedTo, Unit{})
	}

	unit := item.AssignedTo[unitIndex]
	if unit.Contains(guestID) {
		next := make(Unit, 0, len(unit))
		for _, id := range unit {
			if id != guestID {
				next = append(next, id)
			}
		}
		item.AssignedTo[unitIndex] = next
	} else {
		if findGuest(guests, guestID) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrGuestNotFound, guestID)
		}
		item.AssignedTo[unitIndex] = append(append(Unit{}, unit...), guestID)
	}
	out[index] = item
	return out, nil
}

// AddGuest appends a guest. A missing ID is generated and the color follows
// the palette by insertion index.
func AddGuest(guests []Guest, guest Guest) ([]Guest, Guest, error) {
	name, err := cleanName(guest.Name)
	if err != nil {
		return nil, Guest{}, err
	}
	if !isFiniteNonNegative(guest.PaidAmount) {
		return nil, Guest{}, fmt.Errorf("%w: %v", ErrInvalidAmount, guest.PaidAmount)
	}
	if guest.ID == "" {
		guest.ID = NewGuestID()
	}
	guest.Name = name
	guest.Color = ColorForIndex(len(guests))

	out := CloneGuests(guests)
	out = append(out, guest)
	return out, guest, nil
}

// RemoveGuest drops the guest and prunes its ID from every assignment unit.
func RemoveGuest(items []Item, guests []Guest, guestID string) ([]Item, []Guest, error) {
	index := findGuest(guests, guestID)
	if index < 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrGuestNotFound, guestID)
	}
	remaining := make([]Guest, 0, len(guests)-1)
	for position, guest := range guests {
		if position != index {
			remaining = append(remaining, guest)
		}
	}

	pruned := CloneItems(items)
	for itemIndex := range pruned {
		for unitIndex, unit := range pruned[itemIndex].AssignedTo {
			if !unit.Contains(guestID) {
				continue
			}
			next := make(Unit, 0, len(unit))
			for _, id := range unit {
				if id != guestID {
					next = append(next, id)
				}
			}
			pruned[itemIndex].AssignedTo[unitIndex] = next
		}
	}
	return pruned, remaining, nil
}

// SetPaidAmount replaces the cumulative amount a guest has paid.
func SetPaidAmount(guests []Guest, guestID string, amount float64) ([]Guest, error) {
	if !isFiniteNonNegative(amount) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	index := findGuest(guests, guestID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrGuestNotFound, guestID)
	}
	out := CloneGuests(guests)
	out[index].PaidAmount = amount
	return out, nil
}

// RecordPayment adds amount to the guest's cumulative paid amount.
func RecordPayment(guests []Guest, guestID string, amount float64) ([]Guest, error) {
	if !isFiniteNonNegative(amount) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	index := findGuest(guests, guestID)
	if index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrGuestNotFound, guestID)
	}
	return SetPaidAmount(guests, guestID, guests[index].PaidAmount+amount)
}

func findItem(items []Item, itemID string) int {
	for index, item := range items {
		if item.ID == itemID {
			return index
		}
	}
	return -1
}

func findGuest(guests []Guest, guestID string) int {
	for index, guest := range guests {
		if guest.ID == guestID {
			return index
		}
	}
	return -1
}
