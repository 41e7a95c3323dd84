package ops

import (
	"context"
	"fmt"

	"marketprobe/internal/fault"
	"marketprobe/internal/protocol"
)

// CreateListing offers quantity of item for price and returns the listing
// as acknowledged by the server, once the items have left the inventory.
func (o *Ops) CreateListing(ctx context.Context, item string, quantity, price int) (protocol.Listing, error) {
	before := o.s.Inventory().Count(item)
	env, err := o.request(ctx, protocol.TradingReq{
		Type:     protocol.TypeTrading,
		Action:   protocol.ActionCreate,
		Item:     item,
		Quantity: quantity,
		Price:    price,
	}, protocol.IsTrading(protocol.ActionCreate))
	if err != nil {
		return protocol.Listing{}, fmt.Errorf("create listing: %w", err)
	}
	var res protocol.TradingResultMsg
	if err := env.Decode(&res); err != nil {
		return protocol.Listing{}, fault.Mismatch("create listing", "%v", err)
	}
	if !res.OK {
		return protocol.Listing{}, fault.Rejected("create listing", res.Message)
	}

	l := protocol.Listing{ID: res.ListingID, Item: item, Quantity: quantity, Price: price}
	if res.Listing != nil {
		l = *res.Listing
		if l.ID == "" {
			l.ID = res.ListingID
		}
	}
	if l.ID == "" {
		return protocol.Listing{}, fault.Mismatch("create listing", "acknowledgement without listing id")
	}
	if l.Item != item || l.Quantity != quantity || l.Price != price {
		return l, fault.Mismatch("create listing", "listing %s is %dx %s at %d, asked %dx %s at %d",
			l.ID, l.Quantity, l.Item, l.Price, quantity, item, price)
	}
	if err := o.itemCount(ctx, item, before-quantity); err != nil {
		return l, fmt.Errorf("create listing %s: %w", l.ID, err)
	}
	o.log.Printf("%s: listed %s %dx %s at %d", o.s.Name(), l.ID, l.Quantity, l.Item, l.Price)
	return l, nil
}

// CancelListing withdraws l and waits for its items to come back.
func (o *Ops) CancelListing(ctx context.Context, l protocol.Listing) error {
	before := o.s.Inventory().Count(l.Item)
	env, err := o.request(ctx, protocol.TradingReq{
		Type:      protocol.TypeTrading,
		Action:    protocol.ActionCancel,
		ListingID: l.ID,
	}, protocol.IsTrading(protocol.ActionCancel))
	if err != nil {
		return fmt.Errorf("cancel listing %s: %w", l.ID, err)
	}
	if !env.Succeeded() {
		return fault.Rejected("cancel listing "+l.ID, env.Message)
	}
	if env.ListingID != l.ID {
		return fault.Mismatch("cancel listing", "asked %s, server echoed %q", l.ID, env.ListingID)
	}
	if err := o.itemCount(ctx, l.Item, before+l.Quantity); err != nil {
		return fmt.Errorf("cancel listing %s: %w", l.ID, err)
	}
	o.log.Printf("%s: cancelled %s", o.s.Name(), l.ID)
	return nil
}

// BuyListing purchases l. It returns once currency and items have moved by
// exactly the listed amounts. The seller's bank credit is not checked here.
func (o *Ops) BuyListing(ctx context.Context, l protocol.Listing) error {
	inv := o.s.Inventory()
	beforeCur, beforeItems := inv.Currency, inv.Count(l.Item)
	env, err := o.request(ctx, protocol.TradingReq{
		Type:      protocol.TypeTrading,
		Action:    protocol.ActionBuy,
		ListingID: l.ID,
	}, protocol.IsTrading(protocol.ActionBuy))
	if err != nil {
		return fmt.Errorf("buy listing %s: %w", l.ID, err)
	}
	if !env.Succeeded() {
		return fault.Rejected("buy listing "+l.ID, env.Message)
	}
	if env.ListingID != l.ID {
		return fault.Mismatch("buy listing", "asked %s, server echoed %q", l.ID, env.ListingID)
	}
	wantCur, wantItems := beforeCur-l.Price, beforeItems+l.Quantity
	_, _, err = o.s.WaitInventory(ctx, func(inv protocol.Inventory, _ protocol.Bank) bool {
		return inv.Currency == wantCur && inv.Count(l.Item) == wantItems
	}, o.t.Converge)
	if err != nil {
		now := o.s.Inventory()
		return fmt.Errorf("buy listing %s: want currency %d and %d %s, have %d and %d: %w",
			l.ID, wantCur, wantItems, l.Item, now.Currency, now.Count(l.Item), err)
	}
	o.log.Printf("%s: bought %s for %d", o.s.Name(), l.ID, l.Price)
	return nil
}

// RequestListings returns the server's current listing set.
func (o *Ops) RequestListings(ctx context.Context) ([]protocol.Listing, error) {
	env, err := o.request(ctx, protocol.TradingReq{
		Type:   protocol.TypeTrading,
		Action: protocol.ActionListings,
	}, protocol.IsTrading(protocol.ActionListings))
	if err != nil {
		return nil, fmt.Errorf("request listings: %w", err)
	}
	var res protocol.TradingListingsMsg
	if err := env.Decode(&res); err != nil {
		return nil, fault.Mismatch("request listings", "%v", err)
	}
	return res.Listings, nil
}

// FindListing returns the listing with id from ls.
func FindListing(ls []protocol.Listing, id string) (protocol.Listing, bool) {
	for _, l := range ls {
		if l.ID == id {
			return l, true
		}
	}
	return protocol.Listing{}, false
}
