package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

func TestNextAllowedTransitions(t *testing.T) {
	cases := []struct {
		from   Status
		event  Event
		to     Status
		effect Effect
	}{
		{0, EventCreate, StatusHeld, EffectHold},
		{StatusCreated, EventFund, StatusHeld, EffectHold},
		{StatusCreated, EventCancel, StatusCancelled, EffectNone},
		{StatusHeld, EventConfirm, StatusCompleted, EffectRelease},
		{StatusHeld, EventCancel, StatusCancelled, EffectRefund},
		{StatusHeld, EventDispute, StatusDisputed, EffectNone},
		{StatusDisputed, EventResolveRelease, StatusCompleted, EffectRelease},
		{StatusDisputed, EventResolveRefund, StatusCancelled, EffectRefund},
	}
	for _, tc := range cases {
		tr, err := Next(tc.from, tc.event)
		require.NoError(t, err, "%s + %s", tc.from, tc.event)
		assert.Equal(t, tc.to, tr.To)
		assert.Equal(t, tc.effect, tr.Effect)
	}
}

func TestTerminalStatesRejectEveryEvent(t *testing.T) {
	events := []Event{EventCreate, EventFund, EventConfirm, EventCancel, EventDispute, EventResolveRelease, EventResolveRefund}
	for _, from := range []Status{StatusCompleted, StatusCancelled} {
		require.True(t, from.Terminal())
		for _, ev := range events {
			_, err := Next(from, ev)
			require.Error(t, err)
			assert.Equal(t, domainerr.KindInvalidStateTransition, domainerr.KindOf(err))
			assert.Contains(t, err.Error(), from.String())
			assert.Contains(t, err.Error(), ev.String())
		}
	}
}

func TestDisputedOnlyResolves(t *testing.T) {
	_, err := Next(StatusDisputed, EventConfirm)
	assert.Equal(t, domainerr.KindInvalidStateTransition, domainerr.KindOf(err))
	_, err = Next(StatusDisputed, EventCancel)
	assert.Equal(t, domainerr.KindInvalidStateTransition, domainerr.KindOf(err))
	_, err = Next(StatusHeld, EventResolveRefund)
	assert.Equal(t, domainerr.KindInvalidStateTransition, domainerr.KindOf(err))
}

func TestArrivals(t *testing.T) {
	got := Arrivals(StatusCancelled, EventCancel)
	require.Len(t, got, 2)
	effects := []Effect{got[0].Effect, got[1].Effect}
	assert.ElementsMatch(t, []Effect{EffectNone, EffectRefund}, effects)

	got = Arrivals(StatusCompleted, EventConfirm)
	require.Len(t, got, 1)
	assert.Equal(t, StatusHeld, got[0].From)
	assert.Equal(t, EffectRelease, got[0].Effect)

	assert.Empty(t, Arrivals(StatusHeld, EventConfirm))
}

func TestApplySetsReferencesOnce(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	create, err := Next(0, EventCreate)
	require.NoError(t, err)

	o, err := Order{ID: "o1", Price: 3000}.Apply(create, "tx-hold", at)
	require.NoError(t, err)
	assert.Equal(t, StatusHeld, o.Status)
	assert.Equal(t, "tx-hold", o.EscrowTxID)
	assert.Equal(t, at, o.UpdatedAt)

	confirm, err := Next(StatusHeld, EventConfirm)
	require.NoError(t, err)
	done, err := o.Apply(confirm, "tx-release", at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, "tx-hold", done.EscrowTxID)
	assert.Equal(t, "tx-release", done.SettlementTxID)
	assert.Equal(t, int64(3000), done.Price)

	_, err = done.Apply(confirm, "tx-again", at)
	assert.Error(t, err, "transition from a different state must be refused")

	o.SettlementTxID = "tx-other"
	_, err = o.Apply(confirm, "tx-release", at)
	assert.Error(t, err)
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusCreated, StatusHeld, StatusCompleted, StatusCancelled, StatusDisputed} {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("HELD")
	assert.Error(t, err)
}
