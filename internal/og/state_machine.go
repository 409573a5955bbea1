package og

import (
	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var (
	ErrDuplicateLeg      = exception.ErrOrderDuplicateLeg
	ErrUnknownLeg        = exception.ErrOrderUnknownLeg
	ErrInvalidTransition = exception.ErrOrderInvalidTransition
)

// Transition validates a leg state change. Submitted may be reported more than once
// (submitted, accepted, working, part-filled) and Intent may jump straight to a terminal state.
func Transition(from, to schema.LegState) error {
	if from.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	switch to {
	case schema.LegStateSubmitted, schema.LegStateConfirmed, schema.LegStateCancelled, schema.LegStateRejected:
		return nil
	default:
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
}

// LegFromOrderState maps a broker order state onto the leg lifecycle.
func LegFromOrderState(s schema.OrderState) (schema.LegState, bool) {
	switch s {
	case schema.OrderStateSubmitted, schema.OrderStateAccepted, schema.OrderStateWorking, schema.OrderStatePartFilled:
		return schema.LegStateSubmitted, true
	case schema.OrderStateFilled:
		return schema.LegStateConfirmed, true
	case schema.OrderStateCancelled:
		return schema.LegStateCancelled, true
	case schema.OrderStateRejected:
		return schema.LegStateRejected, true
	default:
		return schema.LegStateIntent, false
	}
}

// LegRequest is one order the ledger asks the broker to work.
type LegRequest struct {
	CorrelationID string
	Action        schema.OrderAction
	Quantity      schema.Quantity
}

// Leg holds the gateway's view of a submitted leg. Sent is set once the bridge took the leg.
type Leg struct {
	LegRequest
	Filled schema.Quantity
	State  schema.LegState
	Sent   bool
}

// StateMachine tracks legs from request to a terminal state.
type StateMachine struct {
	legs map[string]*Leg
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{legs: make(map[string]*Leg)}
}

// Leg returns the current leg state.
func (m *StateMachine) Leg(id string) (Leg, bool) {
	l, ok := m.legs[id]
	if !ok {
		return Leg{}, false
	}
	return *l, true
}

// Len returns the number of tracked legs.
func (m *StateMachine) Len() int {
	return len(m.legs)
}

// ApplyRequest registers a new leg in Intent state.
func (m *StateMachine) ApplyRequest(req LegRequest) (Leg, error) {
	if req.CorrelationID == "" {
		return Leg{}, exception.ErrOrderEmptyCorrelation
	}
	if _, ok := m.legs[req.CorrelationID]; ok {
		return Leg{}, errors.Wrapf(ErrDuplicateLeg, "correlation: %s", req.CorrelationID)
	}
	l := &Leg{LegRequest: req, State: schema.LegStateIntent}
	m.legs[req.CorrelationID] = l
	return *l, nil
}

// ApplyState advances a leg from a state-transition half.
func (m *StateMachine) ApplyState(st schema.StateTransition) (Leg, error) {
	l, ok := m.legs[st.CorrelationID]
	if !ok {
		return Leg{}, errors.Wrapf(ErrUnknownLeg, "correlation: %s", st.CorrelationID)
	}
	next, ok := LegFromOrderState(st.State)
	if !ok {
		return *l, errors.Wrapf(exception.ErrOrderUnknownState, "correlation: %s", st.CorrelationID)
	}
	if err := Transition(l.State, next); err != nil {
		return *l, err
	}
	if st.Filled > l.Filled {
		l.Filled = st.Filled
	}
	l.State = next
	return *l, nil
}

// ApplyFill confirms a leg from a paired fill.
func (m *StateMachine) ApplyFill(fill schema.FillConfirmation) (Leg, error) {
	l, ok := m.legs[fill.CorrelationID]
	if !ok {
		return Leg{}, errors.Wrapf(ErrUnknownLeg, "correlation: %s", fill.CorrelationID)
	}
	if fill.Quantity <= 0 {
		return *l, errors.Wrapf(exception.ErrOrderInvalidFill, "correlation: %s, quantity: %d", fill.CorrelationID, fill.Quantity)
	}
	if err := Transition(l.State, schema.LegStateConfirmed); err != nil {
		return *l, err
	}
	l.Filled = fill.Quantity
	l.State = schema.LegStateConfirmed
	return *l, nil
}

// MarkSent records that the bridge accepted the leg.
func (m *StateMachine) MarkSent(id string) {
	if l, ok := m.legs[id]; ok {
		l.Sent = true
	}
}

// Forget drops a leg.
func (m *StateMachine) Forget(id string) {
	delete(m.legs, id)
}
