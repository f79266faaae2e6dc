package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bazaar-market/escrow/internal/listing"
)

type listingReader struct {
	tx pgx.Tx
}

// Get share-locks the listing row so the catalogue cannot flip its status or
// price while an order is being created from it.
func (r *listingReader) Get(ctx context.Context, id string) (listing.Listing, error) {
	var (
		l      listing.Listing
		status string
	)
	err := r.tx.QueryRow(ctx, `SELECT id, seller_id, price, status FROM listings WHERE id = $1 FOR SHARE`, id).
		Scan(&l.ID, &l.SellerID, &l.Price, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return listing.Listing{}, listing.ErrNotFound
		}
		return listing.Listing{}, classify(err, "get listing")
	}
	if l.Status, err = listing.ParseStatus(status); err != nil {
		return listing.Listing{}, err
	}
	return l, nil
}

// PutListing upserts a catalogue listing. Used for catalogue sync and for
// seeding development data.
func (s *Store) PutListing(ctx context.Context, l listing.Listing) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO listings (id, seller_id, price, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET seller_id = EXCLUDED.seller_id, price = EXCLUDED.price,
		    status = EXCLUDED.status, updated_at = now()`,
		l.ID, l.SellerID, l.Price, l.Status.String())
	return classify(err, "put listing")
}
