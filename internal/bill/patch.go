package bill

import "fmt"

// Patch carries the subset of session fields changed by one mutation.
// A nil field is absent; a pointer to an empty list is a present, empty value.
type Patch struct {
	Items  *[]Item  `json:"items,omitempty"`
	Guests *[]Guest `json:"guests,omitempty"`
	Tax    *float64 `json:"tax,omitempty"`
	Tip    *float64 `json:"tip,omitempty"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p Patch) IsEmpty() bool {
	return p.Items == nil && p.Guests == nil && p.Tax == nil && p.Tip == nil
}

// Validate checks the present rate fields and item quantities.
func (p Patch) Validate() error {
	if p.Items != nil {
		for _, item := range *p.Items {
			if item.Quantity > MaxQuantity {
				return fmt.Errorf("%w: item %s has %d units", ErrInvalidQuantity, item.ID, item.Quantity)
			}
		}
	}
	if p.Tax != nil {
		if err := ValidateRate(*p.Tax); err != nil {
			return err
		}
	}
	if p.Tip != nil {
		if err := ValidateRate(*p.Tip); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTo overwrites every present field of session wholesale. Items are
// normalized on the way in.
func (p Patch) ApplyTo(session *Session) {
	if p.Items != nil {
		session.Items = NormalizeItems(*p.Items)
	}
	if p.Guests != nil {
		guests := CloneGuests(*p.Guests)
		if guests == nil {
			guests = []Guest{}
		}
		session.Guests = guests
	}
	if p.Tax != nil {
		session.TaxRate = *p.Tax
	}
	if p.Tip != nil {
		session.TipRate = *p.Tip
	}
}

// Field names one top-level session field.
type Field uint8

const (
	FieldItems Field = 1 << iota
	FieldGuests
	FieldTax
	FieldTip

	AllFields = FieldItems | FieldGuests | FieldTax | FieldTip
)

// PatchFrom builds a patch holding deep copies of the selected fields of session.
func PatchFrom(session Session, fields Field) Patch {
	var patch Patch
	if fields&FieldItems != 0 {
		items := CloneItems(session.Items)
		if items == nil {
			items = []Item{}
		}
		patch.Items = &items
	}
	if fields&FieldGuests != 0 {
		guests := CloneGuests(session.Guests)
		if guests == nil {
			guests = []Guest{}
		}
		patch.Guests = &guests
	}
	if fields&FieldTax != 0 {
		tax := session.TaxRate
		patch.Tax = &tax
	}
	if fields&FieldTip != 0 {
		tip := session.TipRate
		patch.Tip = &tip
	}
	return patch
}
