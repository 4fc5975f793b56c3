package bill

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NormalizeItems repairs legacy and partial item shapes. Every item ends up
// with a positive quantity and at least quantity assignment units; short
// assignment lists are padded with empty units and never truncated. Unit
// members are deduplicated and empty IDs dropped. The result shares no
// memory with the input, and normalizing twice yields the same value.
func NormalizeItems(items []Item) []Item {
	out := make([]Item, len(items))
	for index, item := range items {
		out[index] = NormalizeItem(item)
	}
	return out
}

// NormalizeItem applies NormalizeItems to a single item. Quantities above
// MaxQuantity are clamped.
func NormalizeItem(item Item) Item {
	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}
	if quantity > MaxQuantity {
		quantity = MaxQuantity
	}

	size := quantity
	if len(item.AssignedTo) > size {
		size = len(item.AssignedTo)
	}
	units := make(Assignments, 0, size)
	for _, unit := range item.AssignedTo {
		units = append(units, normalizeUnit(unit))
	}
	for len(units) < quantity {
		units = append(units, Unit{})
	}

	item.Quantity = quantity
	item.AssignedTo = units
	return item
}

func normalizeUnit(unit Unit) Unit {
	out := make(Unit, 0, len(unit))
	for _, id := range unit {
		if id == "" || out.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// DecodeItems decodes an items array from storage, the sync channel or the
// receipt extractor and normalizes it. A null or empty payload decodes to an
// empty list.
func DecodeItems(raw []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("bill: decode items: %w", err)
	}
	return NormalizeItems(items), nil
}

// DecodeGuests decodes a guests array. A null or empty payload decodes to an
// empty list.
func DecodeGuests(raw []byte) ([]Guest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Guest{}, nil
	}
	var guests []Guest
	if err := json.Unmarshal(trimmed, &guests); err != nil {
		return nil, fmt.Errorf("bill: decode guests: %w", err)
	}
	if guests == nil {
		guests = []Guest{}
	}
	return guests, nil
}
