// Package split computes what every guest owes from a bill.
package split

import (
	"math"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

// SettlementEpsilon is the tolerance below which a remaining balance counts as
// paid. Half a cent keeps a payment one cent short reported as owing.
const SettlementEpsilon = 0.005

// Input is the engine's view of a session.
type Input struct {
	Items   []bill.Item
	Guests  []bill.Guest
	TaxRate float64
	TipRate float64
}

// FromSession builds an engine input from a session snapshot.
func FromSession(session bill.Session) Input {
	return Input{
		Items:   session.Items,
		Guests:  session.Guests,
		TaxRate: session.TaxRate,
		TipRate: session.TipRate,
	}
}

// Line is one unit share credited to a guest.
type Line struct {
	ItemID     string
	ItemName   string
	UnitIndex  int
	SharedWith int
	Amount     float64
}

// GuestShare is a guest's portion of the bill.
type GuestShare struct {
	GuestID   string
	Name      string
	Color     string
	Subtotal  float64
	Tax       float64
	Tip       float64
	Total     float64
	Paid      float64
	Remaining float64
	Settled   bool
	UnitCount int
	ItemCount int
	Lines     []Line
}

// Owed returns what is still to be paid, zero once settled.
func (g GuestShare) Owed() float64 {
	if g.Settled {
		return 0
	}
	return g.Remaining
}

// Summary is the full split of a bill.
type Summary struct {
	Subtotal           float64
	Tax                float64
	Tip                float64
	Total              float64
	AssignedSubtotal   float64
	UnassignedSubtotal float64
	// UnassignedContribution is the pre-tax value of unassigned units, plus
	// shares held by IDs that are not guests, grossed up by the tax and tip
	// ratio. It belongs to nobody and is excluded from every guest total.
	UnassignedContribution float64
	UnassignedUnits        int
	Guests                 []GuestShare
}

// Guest returns the share of guestID.
func (s Summary) Guest(guestID string) (GuestShare, bool) {
	for _, share := range s.Guests {
		if share.GuestID == guestID {
			return share, true
		}
	}
	return GuestShare{}, false
}

// Calculate splits the bill. It never fails; non-finite or negative prices
// and rates count as zero, and quantities below one count as one.
func Calculate(input Input) Summary {
	var summary Summary

	for _, item := range input.Items {
		summary.Subtotal += sanitize(item.Price) * float64(effectiveQuantity(item))
	}
	summary.Tax = summary.Subtotal * sanitize(input.TaxRate) / 100
	summary.Tip = summary.Subtotal * sanitize(input.TipRate) / 100
	summary.Total = summary.Subtotal + summary.Tax + summary.Tip

	shares := make([]GuestShare, len(input.Guests))
	positions := make(map[string]int, len(input.Guests))
	for index, guest := range input.Guests {
		shares[index] = GuestShare{GuestID: guest.ID, Name: guest.Name, Color: guest.Color, Paid: guest.PaidAmount}
		if _, exists := positions[guest.ID]; !exists {
			positions[guest.ID] = index
		}
	}

	unassigned := 0.0
	orphaned := 0.0
	for _, item := range input.Items {
		price := sanitize(item.Price)
		touched := make(map[int]struct{})
		for unitIndex := 0; unitIndex < effectiveQuantity(item); unitIndex++ {
			members := distinctMembers(unitAt(item, unitIndex))
			if len(members) == 0 {
				unassigned += price
				summary.UnassignedUnits++
				continue
			}
			summary.AssignedSubtotal += price
			amount := price / float64(len(members))
			for _, guestID := range members {
				position, known := positions[guestID]
				if !known {
					orphaned += amount
					continue
				}
				share := &shares[position]
				share.Subtotal += amount
				share.UnitCount++
				share.Lines = append(share.Lines, Line{
					ItemID:     item.ID,
					ItemName:   item.Name,
					UnitIndex:  unitIndex,
					SharedWith: len(members),
					Amount:     amount,
				})
				touched[position] = struct{}{}
			}
		}
		for position := range touched {
			shares[position].ItemCount++
		}
	}
	summary.UnassignedSubtotal = summary.Subtotal - summary.AssignedSubtotal

	for index := range shares {
		share := &shares[index]
		if summary.Subtotal > 0 {
			ratio := share.Subtotal / summary.Subtotal
			share.Tax = summary.Tax * ratio
			share.Tip = summary.Tip * ratio
		}
		share.Total = share.Subtotal + share.Tax + share.Tip
		share.Remaining = share.Total - share.Paid
		share.Settled = share.Remaining <= SettlementEpsilon
	}

	extra := unassigned + orphaned
	if summary.Subtotal > 0 {
		extra *= 1 + (summary.Tax+summary.Tip)/summary.Subtotal
	}
	summary.UnassignedContribution = extra
	summary.Guests = shares
	return summary
}

func effectiveQuantity(item bill.Item) int {
	if item.Quantity < 1 {
		return 1
	}
	if item.Quantity > bill.MaxQuantity {
		return bill.MaxQuantity
	}
	return item.Quantity
}

func unitAt(item bill.Item, unitIndex int) bill.Unit {
	if unitIndex < len(item.AssignedTo) {
		return item.AssignedTo[unitIndex]
	}
	return nil
}

func distinctMembers(unit bill.Unit) []string {
	if len(unit) == 0 {
		return nil
	}
	members := make([]string, 0, len(unit))
	for _, id := range unit {
		if id == "" {
			continue
		}
		seen := false
		for _, existing := range members {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			members = append(members, id)
		}
	}
	return members
}

func sanitize(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0
	}
	return value
}
