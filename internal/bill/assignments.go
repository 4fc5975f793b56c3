package bill

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Unit is the ordered set of guest IDs sharing one unit of an item.
// An empty Unit means the unit is unassigned.
type Unit []string

// Contains reports whether the guest shares this unit.
func (u Unit) Contains(guestID string) bool {
	for _, id := range u {
		if id == guestID {
			return true
		}
	}
	return false
}

// Assignments holds one Unit per unit of an item's quantity.
type Assignments []Unit

// UnmarshalJSON accepts the per-unit shape [["a"],[]] as well as the
// legacy single-unit shape ["a","b"], which decodes as one unit.
func (a *Assignments) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if isNull(trimmed) {
		*a = nil
		return nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAssignments, err)
	}
	if len(elements) == 0 {
		*a = Assignments{}
		return nil
	}

	if flat, ok := decodeFlatUnit(elements); ok {
		*a = Assignments{flat}
		return nil
	}

	units := make(Assignments, 0, len(elements))
	for index, element := range elements {
		if isNull(element) {
			units = append(units, Unit{})
			continue
		}
		var single string
		if err := json.Unmarshal(element, &single); err == nil {
			units = append(units, Unit{single})
			continue
		}
		var unit Unit
		if err := json.Unmarshal(element, &unit); err != nil {
			return fmt.Errorf("%w: unit %d: %v", ErrInvalidAssignments, index, err)
		}
		units = append(units, unit)
	}
	*a = units
	return nil
}

// MarshalJSON always emits the per-unit shape with empty units as [].
func (a Assignments) MarshalJSON() ([]byte, error) {
	out := make([][]string, len(a))
	for index, unit := range a {
		if unit == nil {
			out[index] = []string{}
			continue
		}
		out[index] = unit
	}
	return json.Marshal(out)
}

func decodeFlatUnit(elements []json.RawMessage) (Unit, bool) {
	flat := make(Unit, 0, len(elements))
	for _, element := range elements {
		if isNull(element) {
			return nil, false
		}
		var id string
		if err := json.Unmarshal(element, &id); err != nil {
			return nil, false
		}
		flat = append(flat, id)
	}
	return flat, true
}

func (a Assignments) clone() Assignments {
	if a == nil {
		return nil
	}
	out := make(Assignments, len(a))
	for index, unit := range a {
		if unit == nil {
			continue
		}
		out[index] = append(Unit{}, unit...)
	}
	return out
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
