package client

import (
	"context"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
)

// AddItem appends an item with a generated ID.
func (c *Client) AddItem(ctx context.Context, name string, price float64, quantity int) (bill.Item, error) {
	var added bill.Item
	err := c.mutate(ctx, ActionEditItems, bill.FieldItems, func(session *bill.Session) error {
		items, item, err := bill.AddItem(session.Items, bill.Item{Name: name, Price: price, Quantity: quantity})
		if err != nil {
			return err
		}
		session.Items = items
		added = item
		return nil
	})
	return added, err
}

func (c *Client) UpdateItem(ctx context.Context, itemID string, edit bill.ItemEdit) error {
	return c.mutate(ctx, ActionEditItems, bill.FieldItems, func(session *bill.Session) error {
		items, err := bill.UpdateItem(session.Items, itemID, edit)
		if err != nil {
			return err
		}
		session.Items = items
		return nil
	})
}

func (c *Client) RemoveItem(ctx context.Context, itemID string) error {
	return c.mutate(ctx, ActionEditItems, bill.FieldItems, func(session *bill.Session) error {
		items, err := bill.RemoveItem(session.Items, itemID)
		if err != nil {
			return err
		}
		session.Items = items
		return nil
	})
}

func (c *Client) SetQuantity(ctx context.Context, itemID string, quantity int) error {
	return c.mutate(ctx, ActionEditItems, bill.FieldItems, func(session *bill.Session) error {
		items, err := bill.SetQuantity(session.Items, itemID, quantity)
		if err != nil {
			return err
		}
		session.Items = items
		return nil
	})
}

// ImportReceipt parses a receipt image on the server and appends the
// resulting items.
func (c *Client) ImportReceipt(ctx context.Context, filename string, image []byte) ([]bill.Item, error) {
	if !Allows(c.Role(), ActionEditItems) {
		return nil, ErrAdminRequired
	}
	parsed, err := c.api.ParseReceipt(ctx, filename, image)
	if err != nil {
		return nil, err
	}
	var added []bill.Item
	err = c.mutate(ctx, ActionEditItems, bill.FieldItems, func(session *bill.Session) error {
		items := session.Items
		added = make([]bill.Item, 0, len(parsed))
		for _, candidate := range parsed {
			next, item, err := bill.AddItem(items, candidate)
			if err != nil {
				continue
			}
			items = next
			added = append(added, item)
		}
		session.Items = items
		return nil
	})
	return added, err
}

// AddGuest appends a guest coloured by position.
func (c *Client) AddGuest(ctx context.Context, name string) (bill.Guest, error) {
	var added bill.Guest
	err := c.mutate(ctx, ActionEditGuests, bill.FieldGuests, func(session *bill.Session) error {
		guests, guest, err := bill.AddGuest(session.Guests, bill.Guest{Name: name})
		if err != nil {
			return err
		}
		session.Guests = guests
		added = guest
		return nil
	})
	return added, err
}

// RemoveGuest drops the guest and every unit claim it held.
func (c *Client) RemoveGuest(ctx context.Context, guestID string) error {
	return c.mutate(ctx, ActionEditGuests, bill.FieldItems|bill.FieldGuests, func(session *bill.Session) error {
		items, guests, err := bill.RemoveGuest(session.Items, session.Guests, guestID)
		if err != nil {
			return err
		}
		session.Items = items
		session.Guests = guests
		return nil
	})
}

// ToggleAssignment adds or removes guestID on one unit of an item.
func (c *Client) ToggleAssignment(ctx context.Context, itemID, guestID string, unitIndex int) error {
	return c.mutate(ctx, ActionAssign, bill.FieldItems, func(session *bill.Session) error {
		items, err := bill.ToggleAssignment(session.Items, session.Guests, itemID, guestID, unitIndex)
		if err != nil {
			return err
		}
		session.Items = items
		return nil
	})
}

func (c *Client) SetTax(ctx context.Context, rate float64) error {
	return c.mutate(ctx, ActionEditRates, bill.FieldTax, func(session *bill.Session) error {
		if err := bill.ValidateRate(rate); err != nil {
			return err
		}
		session.TaxRate = rate
		return nil
	})
}

func (c *Client) SetTip(ctx context.Context, rate float64) error {
	return c.mutate(ctx, ActionEditRates, bill.FieldTip, func(session *bill.Session) error {
		if err := bill.ValidateRate(rate); err != nil {
			return err
		}
		session.TipRate = rate
		return nil
	})
}

// RecordPayment adds amount to what the guest has paid.
func (c *Client) RecordPayment(ctx context.Context, guestID string, amount float64) error {
	return c.mutate(ctx, ActionRecordPayment, bill.FieldGuests, func(session *bill.Session) error {
		guests, err := bill.RecordPayment(session.Guests, guestID, amount)
		if err != nil {
			return err
		}
		session.Guests = guests
		return nil
	})
}

// SetPaidAmount replaces what the guest has paid.
func (c *Client) SetPaidAmount(ctx context.Context, guestID string, amount float64) error {
	return c.mutate(ctx, ActionRecordPayment, bill.FieldGuests, func(session *bill.Session) error {
		guests, err := bill.SetPaidAmount(session.Guests, guestID, amount)
		if err != nil {
			return err
		}
		session.Guests = guests
		return nil
	})
}

// mutate applies change to a copy of the replica, commits it, notifies, and
// sends the changed fields. A failing change leaves the replica untouched.
func (c *Client) mutate(ctx context.Context, action Action, fields bill.Field, change func(*bill.Session) error) error {
	c.mu.Lock()
	if !Allows(c.role, action) {
		c.mu.Unlock()
		return ErrAdminRequired
	}
	next := c.session.Clone()
	if err := change(&next); err != nil {
		c.mu.Unlock()
		return err
	}
	c.session = next
	patch := bill.PatchFrom(next, fields)
	sessionID, conn, joined := c.sessionID, c.conn, c.state == StateJoined
	snapshot := next.Clone()
	c.mu.Unlock()

	c.notify(snapshot)
	if !joined || conn == nil {
		return ErrNotJoined
	}
	return c.send(ctx, conn, sessionID, patch)
}
