package og

import (
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Notification is a single split-mode broker callback. Exactly one half is set.
type Notification struct {
	State *schema.StateTransition
	Fill  *schema.FillConfirmation
}

// StateNotification wraps a state transition.
func StateNotification(st schema.StateTransition) Notification {
	return Notification{State: &st}
}

// FillNotification wraps a fill confirmation.
func FillNotification(fill schema.FillConfirmation) Notification {
	return Notification{Fill: &fill}
}

// CorrelationID returns the id of whichever half is set.
func (n Notification) CorrelationID() string {
	switch {
	case n.State != nil:
		return n.State.CorrelationID
	case n.Fill != nil:
		return n.Fill.CorrelationID
	default:
		return ""
	}
}

// Deliver routes n to the matching synchronizer entry point.
func (n Notification) Deliver(s *Synchronizer) error {
	switch {
	case n.State != nil && n.Fill != nil:
		return exception.ErrOrderInvalidFill
	case n.State != nil:
		return s.OnStateTransition(*n.State)
	case n.Fill != nil:
		return s.OnFillConfirmation(*n.Fill)
	default:
		return exception.ErrOrderEmptyCorrelation
	}
}
