package escrow

import (
	"strings"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/listing"
	"github.com/bazaar-market/escrow/internal/order"
)

// guard is a precondition evaluated before an operation touches any state.
type guard func() error

func check(guards ...guard) error {
	for _, g := range guards {
		if err := g(); err != nil {
			return err
		}
	}
	return nil
}

func required(field, value string) guard {
	return func() error {
		if strings.TrimSpace(value) == "" {
			return domainerr.Newf(domainerr.KindInvalidOperation, "%s is required", field)
		}
		return nil
	}
}

func listingActive(l listing.Listing) guard {
	return func() error {
		if l.Status != listing.StatusActive {
			return domainerr.Newf(domainerr.KindListingUnavailable, "listing %s is %s", l.ID, l.Status)
		}
		return nil
	}
}

func notOwnListing(l listing.Listing, buyerID string) guard {
	return func() error {
		if l.SellerID == buyerID {
			return domainerr.New(domainerr.KindInvalidOperation, "cannot buy your own listing")
		}
		return nil
	}
}

func positivePrice(l listing.Listing) guard {
	return func() error {
		if l.Price <= 0 {
			return domainerr.Newf(domainerr.KindInvalidOperation, "listing %s has no valid price", l.ID)
		}
		return nil
	}
}

func buyerOnly(o order.Order, requesterID string) guard {
	return func() error {
		if o.BuyerID != requesterID {
			return domainerr.New(domainerr.KindForbidden, "only the buyer can perform this action")
		}
		return nil
	}
}

// sameIntent rejects an idempotency key replayed for a different purchase.
func sameIntent(o order.Order, buyerID, listingID string) guard {
	return func() error {
		if o.BuyerID != buyerID || o.ListingID != listingID {
			return domainerr.New(domainerr.KindConflict, "idempotency key already used for a different order")
		}
		return nil
	}
}
