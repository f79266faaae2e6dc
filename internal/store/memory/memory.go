// Package memory is an in-process implementation of store.UnitOfWork used by
// tests and by development runs without Postgres. It mimics row-level locking:
// a session locks the keys it reads for update and keeps them until it ends,
// and stages its writes so they become visible all at once on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/listing"
	"github.com/bazaar-market/escrow/internal/order"
	"github.com/bazaar-market/escrow/internal/store"
	"github.com/bazaar-market/escrow/internal/wallet"
)

// Store holds committed state. mu only guards map access during reads and
// the commit itself; serialization of writers is done with per-key locks.
type Store struct {
	mu sync.RWMutex

	wallets       map[string]wallet.Wallet
	walletByOwner map[string]string

	txs        map[string]ledger.Transaction
	txByRef    map[string]string
	txByWallet map[string][]string

	orders   map[string]order.Order
	listings map[string]listing.Listing

	locks *keyLocks
	now   func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		wallets:       make(map[string]wallet.Wallet),
		walletByOwner: make(map[string]string),
		txs:           make(map[string]ledger.Transaction),
		txByRef:       make(map[string]string),
		txByWallet:    make(map[string][]string),
		orders:        make(map[string]order.Order),
		listings:      make(map[string]listing.Listing),
		locks:         newKeyLocks(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var _ store.UnitOfWork = (*Store)(nil)

// Within runs fn in a session and commits its staged writes if fn succeeds.
func (s *Store) Within(ctx context.Context, fn store.Work) error {
	sess := newSession(s)
	defer sess.release()

	if err := fn(ctx, sess); err != nil {
		return err
	}
	s.commit(sess)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// PutListing stores a listing as the catalogue would. It takes the listing
// lock, so it waits for any unit of work currently reading that listing.
func (s *Store) PutListing(ctx context.Context, l listing.Listing) error {
	key := "listing:" + l.ID
	if err := s.locks.lock(ctx, key); err != nil {
		return err
	}
	defer s.locks.unlock(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
	return nil
}

func (s *Store) commit(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range sess.wallets {
		s.wallets[id] = w
		s.walletByOwner[w.OwnerID] = id
	}
	for _, tx := range sess.txs {
		s.txs[tx.ID] = tx
		s.txByRef[tx.Reference] = tx.ID
		s.txByWallet[tx.WalletID] = append(s.txByWallet[tx.WalletID], tx.ID)
	}
	for id, o := range sess.orders {
		s.orders[id] = o
	}
}

// keyLocks is a set of named mutexes that can be abandoned when ctx ends.
// A slot lives only while someone holds or waits on it.
type keyLocks struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{slots: make(map[string]*keySlot)}
}

func (k *keyLocks) acquire(key string) *keySlot {
	k.mu.Lock()
	defer k.mu.Unlock()
	sl, ok := k.slots[key]
	if !ok {
		sl = &keySlot{ch: make(chan struct{}, 1)}
		k.slots[key] = sl
	}
	sl.refs++
	return sl
}

func (k *keyLocks) release(key string, sl *keySlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *keyLocks) lock(ctx context.Context, key string) error {
	sl := k.acquire(key)
	select {
	case sl.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.release(key, sl)
		return domainerr.Wrap(domainerr.KindTransient, ctx.Err(), "acquire lock "+key)
	}
}

func (k *keyLocks) unlock(key string) {
	k.mu.Lock()
	sl := k.slots[key]
	k.mu.Unlock()
	<-sl.ch
	k.release(key, sl)
}

func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}

type session struct {
	s    *Store
	held map[string]struct{}
	// acquisition order, released in reverse
	order []string

	wallets map[string]wallet.Wallet
	txs     []ledger.Transaction
	orders  map[string]order.Order
}

func newSession(s *Store) *session {
	return &session{
		s:       s,
		held:    make(map[string]struct{}),
		wallets: make(map[string]wallet.Wallet),
		orders:  make(map[string]order.Order),
	}
}

func (x *session) lock(ctx context.Context, key string) error {
	if _, ok := x.held[key]; ok {
		return nil
	}
	if err := x.s.locks.lock(ctx, key); err != nil {
		return err
	}
	x.held[key] = struct{}{}
	x.order = append(x.order, key)
	return nil
}

func (x *session) holds(key string) bool {
	_, ok := x.held[key]
	return ok
}

func (x *session) release() {
	for i := len(x.order) - 1; i >= 0; i-- {
		x.s.locks.unlock(x.order[i])
	}
	x.order = nil
	x.held = nil
}

func (x *session) Wallets() wallet.Store    { return walletStore{x} }
func (x *session) Transactions() ledger.Log { return txLog{x} }
func (x *session) Orders() order.Repository { return orderRepo{x} }
func (x *session) Listings() listing.Reader { return listingReader{x} }

type walletStore struct{ x *session }

func (w walletStore) Get(_ context.Context, id string) (wallet.Wallet, error) {
	if staged, ok := w.x.wallets[id]; ok {
		return staged, nil
	}
	w.x.s.mu.RLock()
	defer w.x.s.mu.RUnlock()
	found, ok := w.x.s.wallets[id]
	if !ok {
		return wallet.Wallet{}, wallet.ErrNotFound
	}
	return found, nil
}

func (w walletStore) GetByOwner(ctx context.Context, ownerID string) (wallet.Wallet, error) {
	for _, staged := range w.x.wallets {
		if staged.OwnerID == ownerID {
			return staged, nil
		}
	}
	w.x.s.mu.RLock()
	id, ok := w.x.s.walletByOwner[ownerID]
	w.x.s.mu.RUnlock()
	if !ok {
		return wallet.Wallet{}, wallet.ErrNotFound
	}
	return w.Get(ctx, id)
}

func (w walletStore) Ensure(ctx context.Context, ownerID, currency string) (wallet.Wallet, error) {
	if err := w.x.lock(ctx, "owner:"+ownerID); err != nil {
		return wallet.Wallet{}, err
	}
	found, err := w.GetByOwner(ctx, ownerID)
	if err == nil {
		return found, nil
	}
	if domainerr.KindOf(err) != domainerr.KindNotFound {
		return wallet.Wallet{}, err
	}
	now := w.x.s.now()
	created := wallet.Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.x.wallets[created.ID] = created
	return created, nil
}

func (w walletStore) LockForUpdate(ctx context.Context, id string) (wallet.Wallet, error) {
	if err := w.x.lock(ctx, "wallet:"+id); err != nil {
		return wallet.Wallet{}, err
	}
	return w.Get(ctx, id)
}

func (w walletStore) ApplyDelta(ctx context.Context, id string, delta int64) (wallet.Wallet, error) {
	if !w.x.holds("wallet:" + id) {
		return wallet.Wallet{}, domainerr.Newf(domainerr.KindConflict, "wallet %s changed without a lock", id)
	}
	current, err := w.Get(ctx, id)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if current.Balance+delta < 0 {
		return wallet.Wallet{}, wallet.ErrNegativeBalance
	}
	current.Balance += delta
	current.UpdatedAt = w.x.s.now()
	w.x.wallets[id] = current
	return current, nil
}

type txLog struct{ x *session }

func (l txLog) Append(_ context.Context, tx ledger.Transaction) error {
	for _, staged := range l.x.txs {
		if staged.Reference == tx.Reference {
			return domainerr.Newf(domainerr.KindConflict, "reference %s already recorded", tx.Reference)
		}
	}
	l.x.s.mu.RLock()
	_, dup := l.x.s.txByRef[tx.Reference]
	l.x.s.mu.RUnlock()
	if dup {
		return domainerr.Newf(domainerr.KindConflict, "reference %s already recorded", tx.Reference)
	}
	l.x.txs = append(l.x.txs, tx)
	return nil
}

func (l txLog) Get(_ context.Context, id string) (ledger.Transaction, error) {
	for _, staged := range l.x.txs {
		if staged.ID == id {
			return staged, nil
		}
	}
	l.x.s.mu.RLock()
	defer l.x.s.mu.RUnlock()
	tx, ok := l.x.s.txs[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return tx, nil
}

func (l txLog) FindByReference(_ context.Context, reference string) (ledger.Transaction, bool, error) {
	for _, staged := range l.x.txs {
		if staged.Reference == reference {
			return staged, true, nil
		}
	}
	l.x.s.mu.RLock()
	defer l.x.s.mu.RUnlock()
	id, ok := l.x.s.txByRef[reference]
	if !ok {
		return ledger.Transaction{}, false, nil
	}
	return l.x.s.txs[id], true, nil
}

func (l txLog) entries(walletID string) []ledger.Transaction {
	l.x.s.mu.RLock()
	ids := l.x.s.txByWallet[walletID]
	out := make([]ledger.Transaction, 0, len(ids)+len(l.x.txs))
	for _, id := range ids {
		out = append(out, l.x.s.txs[id])
	}
	l.x.s.mu.RUnlock()
	for _, staged := range l.x.txs {
		if staged.WalletID == walletID {
			out = append(out, staged)
		}
	}
	return out
}

func (l txLog) ListByWallet(_ context.Context, walletID string, limit, offset int) (ledger.Page, error) {
	all := l.entries(walletID)
	// newest first; entries are in insertion order, so reverse before a stable sort
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	page := ledger.Page{Total: len(all)}
	if offset >= len(all) {
		page.Transactions = []ledger.Transaction{}
		return page, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page.Transactions = all[offset:end]
	return page, nil
}

func (l txLog) SumByWallet(_ context.Context, walletID string) (int64, error) {
	var sum int64
	for _, tx := range l.entries(walletID) {
		sum += tx.Amount
	}
	return sum, nil
}

type orderRepo struct{ x *session }

func (r orderRepo) Create(ctx context.Context, o order.Order) error {
	if err := r.x.lock(ctx, "order:"+o.ID); err != nil {
		return err
	}
	if _, err := r.Get(ctx, o.ID); err == nil {
		return domainerr.Newf(domainerr.KindConflict, "order %s already exists", o.ID)
	}
	r.x.orders[o.ID] = o
	return nil
}

func (r orderRepo) Get(_ context.Context, id string) (order.Order, error) {
	if staged, ok := r.x.orders[id]; ok {
		return staged, nil
	}
	r.x.s.mu.RLock()
	defer r.x.s.mu.RUnlock()
	o, ok := r.x.s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) LockForUpdate(ctx context.Context, id string) (order.Order, error) {
	if err := r.x.lock(ctx, "order:"+id); err != nil {
		return order.Order{}, err
	}
	return r.Get(ctx, id)
}

func (r orderRepo) Update(ctx context.Context, o order.Order, expected order.Status) error {
	current, err := r.Get(ctx, o.ID)
	if err != nil {
		return err
	}
	if current.Status != expected {
		return order.ErrStaleStatus
	}
	r.x.orders[o.ID] = o
	return nil
}

func (r orderRepo) ListByBuyer(_ context.Context, buyerID string) ([]order.Order, error) {
	seen := make(map[string]struct{})
	out := make([]order.Order, 0)
	for id, o := range r.x.orders {
		if o.BuyerID == buyerID {
			out = append(out, o)
			seen[id] = struct{}{}
		}
	}
	r.x.s.mu.RLock()
	for id, o := range r.x.s.orders {
		if _, dup := seen[id]; dup || o.BuyerID != buyerID {
			continue
		}
		out = append(out, o)
	}
	r.x.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

type listingReader struct{ x *session }

func (r listingReader) Get(ctx context.Context, id string) (listing.Listing, error) {
	if err := r.x.lock(ctx, "listing:"+id); err != nil {
		return listing.Listing{}, err
	}
	r.x.s.mu.RLock()
	defer r.x.s.mu.RUnlock()
	l, ok := r.x.s.listings[id]
	if !ok {
		return listing.Listing{}, listing.ErrNotFound
	}
	return l, nil
}
