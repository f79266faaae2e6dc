package order

import (
	"fmt"

	"github.com/bazaar-market/escrow/internal/domainerr"
)

// Event is something that happens to an order.
type Event uint8

const (
	EventCreate Event = iota + 1
	EventFund
	EventConfirm
	EventCancel
	EventDispute
	EventResolveRelease
	EventResolveRefund
)

func (e Event) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventFund:
		return "fund"
	case EventConfirm:
		return "confirm delivery"
	case EventCancel:
		return "cancel"
	case EventDispute:
		return "dispute"
	case EventResolveRelease:
		return "resolve with release"
	case EventResolveRefund:
		return "resolve with refund"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Effect is the ledger posting a transition requires.
type Effect uint8

const (
	EffectNone Effect = iota
	EffectHold
	EffectRelease
	EffectRefund
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectHold:
		return "hold"
	case EffectRelease:
		return "release"
	case EffectRefund:
		return "refund"
	default:
		return fmt.Sprintf("effect(%d)", uint8(e))
	}
}

// Transition is one row of the lifecycle table.
type Transition struct {
	From   Status
	Event  Event
	To     Status
	Effect Effect
}

type edge struct {
	from  Status
	event Event
}

// From zero means "no order yet".
var transitions = map[edge]Transition{
	{0, EventCreate}:                      {From: 0, Event: EventCreate, To: StatusHeld, Effect: EffectHold},
	{StatusCreated, EventFund}:            {From: StatusCreated, Event: EventFund, To: StatusHeld, Effect: EffectHold},
	{StatusCreated, EventCancel}:          {From: StatusCreated, Event: EventCancel, To: StatusCancelled, Effect: EffectNone},
	{StatusHeld, EventConfirm}:            {From: StatusHeld, Event: EventConfirm, To: StatusCompleted, Effect: EffectRelease},
	{StatusHeld, EventCancel}:             {From: StatusHeld, Event: EventCancel, To: StatusCancelled, Effect: EffectRefund},
	{StatusHeld, EventDispute}:            {From: StatusHeld, Event: EventDispute, To: StatusDisputed, Effect: EffectNone},
	{StatusDisputed, EventResolveRelease}: {From: StatusDisputed, Event: EventResolveRelease, To: StatusCompleted, Effect: EffectRelease},
	{StatusDisputed, EventResolveRefund}:  {From: StatusDisputed, Event: EventResolveRefund, To: StatusCancelled, Effect: EffectRefund},
}

// Next looks up the transition for event from the given state. Pass a zero
// Status for an order that does not exist yet.
func Next(from Status, event Event) (Transition, error) {
	if t, ok := transitions[edge{from, event}]; ok {
		return t, nil
	}
	state := from.String()
	if from == 0 {
		state = "none"
	}
	return Transition{}, domainerr.Newf(domainerr.KindInvalidStateTransition,
		"cannot %s order in state %s", event, state)
}

// Arrivals lists the transitions for event that end in to. It lets a caller
// recognise an event that already landed, e.g. when a commit was reported as
// failed after it went through.
func Arrivals(to Status, event Event) []Transition {
	var out []Transition
	for _, t := range transitions {
		if t.Event == event && t.To == to {
			out = append(out, t)
		}
	}
	return out
}
