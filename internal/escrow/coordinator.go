// Package escrow sequences listing validation, ledger postings and order
// transitions. Every operation runs as one unit of work: either the order
// row and the ledger entry it implies both commit, or neither does.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bazaar-market/escrow/internal/domainerr"
	"github.com/bazaar-market/escrow/internal/ledger"
	"github.com/bazaar-market/escrow/internal/lock"
	"github.com/bazaar-market/escrow/internal/metrics"
	"github.com/bazaar-market/escrow/internal/notification"
	"github.com/bazaar-market/escrow/internal/order"
	"github.com/bazaar-market/escrow/internal/store"
)

// orderNamespace derives order ids from (buyer, idempotency key).
var orderNamespace = uuid.MustParse("5b0c1f8e-7d0a-4c55-9a53-2f1e0c6b8a41")

// Resolution is the outcome an administrator picks for a disputed order.
type Resolution uint8

const (
	ResolveRelease Resolution = iota + 1
	ResolveRefund
)

func (r Resolution) String() string {
	switch r {
	case ResolveRelease:
		return "release"
	case ResolveRefund:
		return "refund"
	default:
		return fmt.Sprintf("resolution(%d)", uint8(r))
	}
}

// ParseResolution maps a request value to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "release":
		return ResolveRelease, nil
	case "refund":
		return ResolveRefund, nil
	default:
		return 0, domainerr.Newf(domainerr.KindInvalidOperation, "unknown resolution %q", s)
	}
}

func (r Resolution) event() order.Event {
	if r == ResolveRelease {
		return order.EventResolveRelease
	}
	return order.EventResolveRefund
}

// CreateOrderInput is the purchase intent of a buyer.
type CreateOrderInput struct {
	BuyerID   string
	ListingID string
	// IdempotencyKey makes retries of the same request return the same order.
	IdempotencyKey string
}

// Coordinator is the entry point for order events.
type Coordinator struct {
	uow      store.UnitOfWork
	ledger   *ledger.Engine
	locker   lock.Locker
	notifier notification.Notifier
	metrics  *metrics.Metrics
	retry    RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLocker serializes order mutations across instances.
func WithLocker(l lock.Locker) Option { return func(c *Coordinator) { c.locker = l } }

// WithNotifier sets the post-commit notifier.
func WithNotifier(n notification.Notifier) Option { return func(c *Coordinator) { c.notifier = n } }

// WithMetrics records postings, transitions and retries.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option { return func(c *Coordinator) { c.retry = p } }

// WithClock overrides the time source used for order timestamps.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// NewCoordinator wires a coordinator over uow.
func NewCoordinator(uow store.UnitOfWork, engine *ledger.Engine, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		uow:      uow,
		ledger:   engine,
		locker:   lock.Noop{},
		notifier: notification.NewLoggerNotifier(logger),
		retry:    DefaultRetryPolicy(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func reference(orderID string, effect order.Effect) string {
	return fmt.Sprintf("order:%s:%s", orderID, effect)
}

// CreateOrder holds the listing price from the buyer's wallet and records a
// held order. Nothing is written when the hold fails.
func (c *Coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (order.Order, error) {
	if err := check(
		required("buyer_id", in.BuyerID),
		required("listing_id", in.ListingID),
	); err != nil {
		return order.Order{}, err
	}

	id := uuid.NewString()
	if in.IdempotencyKey != "" {
		id = uuid.NewSHA1(orderNamespace, []byte(in.BuyerID+"|"+in.IdempotencyKey)).String()
	}

	var (
		created  order.Order
		replayed bool
		holdTx   ledger.Transaction
	)
	err := c.run(ctx, "create_order", id, func(ctx context.Context, s store.Session) error {
		replayed = false

		existing, err := s.Orders().LockForUpdate(ctx, id)
		switch {
		case err == nil:
			if err := check(sameIntent(existing, in.BuyerID, in.ListingID)); err != nil {
				return err
			}
			created, replayed = existing, true
			return nil
		case !errors.Is(err, order.ErrNotFound):
			return err
		}

		l, err := s.Listings().Get(ctx, in.ListingID)
		if err != nil {
			return err
		}
		if err := check(
			notOwnListing(l, in.BuyerID),
			listingActive(l),
			positivePrice(l),
		); err != nil {
			return err
		}

		t, err := order.Next(0, order.EventCreate)
		if err != nil {
			return err
		}

		w, err := s.Wallets().Ensure(ctx, in.BuyerID, c.ledger.Currency())
		if err != nil {
			return err
		}
		res, err := c.ledger.Hold(ctx, s, w.ID, l.Price, reference(id, t.Effect), map[string]string{
			"order_id":   id,
			"listing_id": l.ID,
		})
		if err != nil {
			return err
		}
		if res.Replayed {
			// a concurrent request with the same key committed first
			if existing, err := s.Orders().Get(ctx, id); err == nil {
				created, replayed = existing, true
				return nil
			}
		}
		holdTx = res.Transaction

		now := c.now()
		o := order.Order{
			ID:        id,
			BuyerID:   in.BuyerID,
			SellerID:  l.SellerID,
			ListingID: l.ID,
			Price:     l.Price,
			Currency:  c.ledger.Currency(),
			CreatedAt: now,
		}
		if created, err = o.Apply(t, res.Transaction.ID, now); err != nil {
			return err
		}
		return s.Orders().Create(ctx, created)
	})
	if err != nil {
		return order.Order{}, err
	}

	if replayed {
		c.logger.Info("order create replayed", slog.String("order_id", created.ID))
		return created, nil
	}
	c.posted(holdTx)
	c.committed(ctx, 0, created, holdTx.ID)
	return created, nil
}

// ConfirmDelivery releases escrow to the seller. Only the buyer may confirm.
func (c *Coordinator) ConfirmDelivery(ctx context.Context, orderID, requesterID string) (order.Order, error) {
	return c.transition(ctx, "confirm_delivery", orderID, requesterID, order.EventConfirm, nil, buyerOnly)
}

// CancelOrder refunds the buyer if funds were held. Only the buyer may cancel.
func (c *Coordinator) CancelOrder(ctx context.Context, orderID, requesterID string) (order.Order, error) {
	return c.transition(ctx, "cancel_order", orderID, requesterID, order.EventCancel, nil, buyerOnly)
}

// OpenDispute freezes a held order until an administrator resolves it.
func (c *Coordinator) OpenDispute(ctx context.Context, orderID, requesterID, reason string) (order.Order, error) {
	if err := check(required("reason", reason)); err != nil {
		return order.Order{}, err
	}
	return c.transition(ctx, "open_dispute", orderID, requesterID, order.EventDispute,
		func(o *order.Order) { o.DisputeReason = reason }, buyerOnly)
}

// ResolveDispute settles a disputed order. Callers must have checked that
// the requester is an administrator.
func (c *Coordinator) ResolveDispute(ctx context.Context, orderID string, outcome Resolution) (order.Order, error) {
	if outcome != ResolveRelease && outcome != ResolveRefund {
		return order.Order{}, domainerr.Newf(domainerr.KindInvalidOperation, "unknown resolution %s", outcome)
	}
	return c.transition(ctx, "resolve_dispute", orderID, "", outcome.event(), nil, nil)
}

// GetOrder returns an order to its buyer.
func (c *Coordinator) GetOrder(ctx context.Context, orderID, requesterID string) (order.Order, error) {
	var o order.Order
	err := c.uow.Within(ctx, func(ctx context.Context, s store.Session) error {
		var err error
		if o, err = s.Orders().Get(ctx, orderID); err != nil {
			return err
		}
		return check(buyerOnly(o, requesterID))
	})
	return o, err
}

// ListOrders returns the buyer's orders, newest first.
func (c *Coordinator) ListOrders(ctx context.Context, buyerID string) ([]order.Order, error) {
	if err := check(required("buyer_id", buyerID)); err != nil {
		return nil, err
	}
	var out []order.Order
	err := c.uow.Within(ctx, func(ctx context.Context, s store.Session) error {
		var err error
		out, err = s.Orders().ListByBuyer(ctx, buyerID)
		return err
	})
	return out, err
}

type authorizer func(o order.Order, requesterID string) guard

func (c *Coordinator) transition(ctx context.Context, op, orderID, requesterID string, event order.Event, mutate func(*order.Order), authorize authorizer) (order.Order, error) {
	if err := check(required("order_id", orderID)); err != nil {
		return order.Order{}, err
	}

	var (
		from     order.Status
		updated  order.Order
		posting  ledger.Transaction
		attempts int
		replayed bool
	)
	err := c.run(ctx, op, orderID, func(ctx context.Context, s store.Session) error {
		posting, replayed = ledger.Transaction{}, false
		attempts++

		current, err := s.Orders().LockForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := check(authorize(current, requesterID)); err != nil {
				return err
			}
		}

		t, err := order.Next(current.Status, event)
		if err != nil {
			// an earlier attempt may have committed before reporting a
			// transient failure
			if attempts > 1 {
				landed, lerr := c.landed(ctx, s, current, event)
				if lerr != nil {
					return lerr
				}
				if landed {
					updated, replayed = current, true
					return nil
				}
			}
			return err
		}

		var txID string
		if t.Effect != order.EffectNone {
			if posting, err = c.settle(ctx, s, current, t.Effect); err != nil {
				return err
			}
			txID = posting.ID
		}

		next, err := current.Apply(t, txID, c.now())
		if err != nil {
			return err
		}
		if mutate != nil {
			mutate(&next)
		}
		if err := s.Orders().Update(ctx, next, current.Status); err != nil {
			return err
		}
		from, updated = current.Status, next
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}

	if replayed {
		c.logger.Info("order transition replayed",
			slog.String("operation", op),
			slog.String("order_id", updated.ID),
			slog.String("status", updated.Status.String()))
		return updated, nil
	}
	if posting.ID != "" {
		c.posted(posting)
	}
	c.committed(ctx, from, updated, posting.ID)
	return updated, nil
}

// landed reports whether o already sits where event would have taken it,
// with the ledger entry the transition implies recorded against it.
func (c *Coordinator) landed(ctx context.Context, s store.Session, o order.Order, event order.Event) (bool, error) {
	for _, t := range order.Arrivals(o.Status, event) {
		if t.Effect == order.EffectNone {
			if o.SettlementTxID == "" {
				return true, nil
			}
			continue
		}
		tx, found, err := s.Transactions().FindByReference(ctx, reference(o.ID, t.Effect))
		if err != nil {
			return false, err
		}
		if found && tx.ID == o.SettlementTxID {
			return true, nil
		}
	}
	return false, nil
}

// settle posts the ledger effect of a transition: release credits the
// seller, refund credits the buyer.
func (c *Coordinator) settle(ctx context.Context, s store.Session, o order.Order, effect order.Effect) (ledger.Transaction, error) {
	meta := map[string]string{"order_id": o.ID, "listing_id": o.ListingID}
	ref := reference(o.ID, effect)

	var (
		res ledger.Result
		err error
	)
	switch effect {
	case order.EffectRelease:
		w, werr := s.Wallets().Ensure(ctx, o.SellerID, c.ledger.Currency())
		if werr != nil {
			return ledger.Transaction{}, werr
		}
		res, err = c.ledger.Release(ctx, s, w.ID, o.Price, ref, meta)
	case order.EffectRefund:
		w, werr := s.Wallets().Ensure(ctx, o.BuyerID, c.ledger.Currency())
		if werr != nil {
			return ledger.Transaction{}, werr
		}
		res, err = c.ledger.Refund(ctx, s, w.ID, o.Price, ref, meta)
	default:
		return ledger.Transaction{}, fmt.Errorf("order %s: no settlement for effect %s", o.ID, effect)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	return res.Transaction, nil
}

// run executes fn as one unit of work under the order lock, retrying
// transient failures with backoff. fn must be safe to run more than once.
func (c *Coordinator) run(ctx context.Context, op, orderID string, fn store.Work) error {
	start := time.Now()
	var err error
	for attempt := 0; ; attempt++ {
		err = c.locker.WithLock(ctx, "order:"+orderID, func(ctx context.Context) error {
			return c.uow.Within(ctx, fn)
		})
		if err == nil || !domainerr.IsTransient(err) || attempt >= c.retry.MaxRetries {
			break
		}
		c.logger.Warn("retrying unit of work",
			slog.String("operation", op),
			slog.String("order_id", orderID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}
		if sleepErr := sleep(ctx, c.retry.delay(attempt)); sleepErr != nil {
			break
		}
	}

	if c.metrics != nil {
		c.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.Failures.WithLabelValues(op, domainerr.KindOf(err).String()).Inc()
		}
	}
	if err != nil {
		c.logger.Debug("operation failed",
			slog.String("operation", op),
			slog.String("order_id", orderID),
			slog.String("kind", domainerr.KindOf(err).String()),
			slog.Any("error", err))
	}
	return err
}

func (c *Coordinator) posted(tx ledger.Transaction) {
	if c.metrics != nil {
		c.metrics.Postings.WithLabelValues(tx.Kind.String()).Inc()
	}
}

func (c *Coordinator) committed(ctx context.Context, from order.Status, o order.Order, txID string) {
	fromLabel := "none"
	if from != 0 {
		fromLabel = from.String()
	}
	c.logger.Info("order transition",
		slog.String("order_id", o.ID),
		slog.String("from", fromLabel),
		slog.String("to", o.Status.String()),
		slog.String("tx_id", txID))
	if c.metrics != nil {
		c.metrics.Transitions.WithLabelValues(fromLabel, o.Status.String()).Inc()
	}

	msg := notification.Message{Destination: o.SellerID, OrderID: o.ID}
	switch o.Status {
	case order.StatusHeld:
		msg.Kind = notification.KindOrderCreated
		msg.Body = fmt.Sprintf("New order for listing %s: %d %s held in escrow", o.ListingID, o.Price, o.Currency)
	case order.StatusCompleted:
		msg.Kind = notification.KindOrderCompleted
		msg.Body = fmt.Sprintf("Order %s completed: %d %s released to your wallet", o.ID, o.Price, o.Currency)
	case order.StatusCancelled:
		msg.Kind = notification.KindOrderCancelled
		msg.Body = fmt.Sprintf("Order %s was cancelled", o.ID)
	case order.StatusDisputed:
		msg.Kind = notification.KindOrderDisputed
		msg.Body = fmt.Sprintf("Order %s is disputed: %s", o.ID, o.DisputeReason)
	default:
		return
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.logger.Warn("notification failed", slog.String("order_id", o.ID), slog.Any("error", err))
	}
}
