// Package listing is the read-only view of marketplace listings the escrow
// core needs. Listings are owned by the catalogue service; the core never
// writes them.
package listing

import (
	"context"
	"fmt"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

// ErrNotFound is returned when the listing does not exist.
var ErrNotFound = domainerr.New(domainerr.KindNotFound, "listing not found")

// Status mirrors the catalogue's upper-case listing status.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusSold
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusSold:
		return "SOLD"
	case StatusInactive:
		return "INACTIVE"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// ParseStatus maps a catalogue status string to the enum.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "ACTIVE":
		return StatusActive, nil
	case "SOLD":
		return StatusSold, nil
	case "INACTIVE":
		return StatusInactive, nil
	default:
		return 0, fmt.Errorf("unknown listing status %q", s)
	}
}

// Listing is the subset of catalogue data an order snapshots.
type Listing struct {
	ID       string
	SellerID string
	Price    int64
	Status   Status
}

// Reader looks up a listing inside a unit of work. Implementations read it
// so that a concurrent catalogue edit cannot change status or price until the
// unit of work ends.
type Reader interface {
	Get(ctx context.Context, id string) (Listing, error)
}
