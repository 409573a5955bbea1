package og

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// NativeOrderUpdate is the broker's order-state callback payload.
type NativeOrderUpdate struct {
	OrderID          string     `json:"orderId"`
	Name             string     `json:"name"`
	State            string     `json:"orderState"`
	Quantity         int64      `json:"quantity"`
	Filled           int64      `json:"filled"`
	AverageFillPrice float64    `json:"averageFillPrice"`
	Time             *time.Time `json:"time,omitempty"`
	Error            string     `json:"error,omitempty"`
	ErrorCode        int        `json:"errorCode,omitempty"`
}

// NativeExecution is the broker's execution callback payload.
type NativeExecution struct {
	ExecutionID    string     `json:"executionId"`
	OrderID        string     `json:"orderId"`
	OrderName      string     `json:"orderName"`
	Price          float64    `json:"price"`
	Quantity       int64      `json:"quantity"`
	MarketPosition string     `json:"marketPosition"`
	Time           *time.Time `json:"time,omitempty"`
}

// Normalizer converts native callbacks into schema values.
//
// Defaulting rules:
//   - the correlation id is the order name, falling back to the order id; both empty is an error
//   - state names are matched case-insensitively, ignoring '_' and ' '; unknown names are an error
//   - a negative quantity is treated as unknown (0); filled is clamped into [0, quantity]
//   - a "filled" update reporting filled=0 is taken as fully filled
//   - an error code without text becomes "code <n>"
//   - a missing timestamp is replaced with the receive time
//   - executions must carry a positive finite price and a positive quantity
//   - market position "flat" or an unknown value maps to DirectionUnknown
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a normalizer stamping missing times with now. A nil now uses time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

var orderStates = map[string]schema.OrderState{
	"initialized":     schema.OrderStateSubmitted,
	"submitted":       schema.OrderStateSubmitted,
	"pendingsubmit":   schema.OrderStateSubmitted,
	"accepted":        schema.OrderStateAccepted,
	"working":         schema.OrderStateWorking,
	"triggerpending":  schema.OrderStateWorking,
	"changepending":   schema.OrderStateWorking,
	"changesubmitted": schema.OrderStateWorking,
	"cancelpending":   schema.OrderStateWorking,
	"partfilled":      schema.OrderStatePartFilled,
	"partiallyfilled": schema.OrderStatePartFilled,
	"filled":          schema.OrderStateFilled,
	"cancelled":       schema.OrderStateCancelled,
	"canceled":        schema.OrderStateCancelled,
	"cancelsubmitted": schema.OrderStateWorking,
	"rejected":        schema.OrderStateRejected,
}

// ParseOrderState maps a native state name.
func ParseOrderState(s string) (schema.OrderState, bool) {
	k := strings.ToLower(s)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, " ", "")
	st, ok := orderStates[k]
	return st, ok
}

// NormalizeOrderUpdate applies the defaulting rules to an order update.
func (n *Normalizer) NormalizeOrderUpdate(u NativeOrderUpdate) (schema.StateTransition, error) {
	id := correlationID(u.Name, u.OrderID)
	if id == "" {
		return schema.StateTransition{}, errors.Wrap(exception.ErrOrderEmptyCorrelation, "normalize order update")
	}
	state, ok := ParseOrderState(u.State)
	if !ok {
		return schema.StateTransition{}, errors.Wrapf(exception.ErrOrderUnknownState, "correlation: %s, state: %q", id, u.State)
	}

	qty := max(u.Quantity, 0)
	filled := max(u.Filled, 0)
	if qty > 0 && filled > qty {
		filled = qty
	}
	if state == schema.OrderStateFilled && filled == 0 {
		filled = qty
	}

	errText := strings.TrimSpace(u.Error)
	if errText == "" && u.ErrorCode != 0 {
		errText = "code " + strconv.Itoa(u.ErrorCode)
	}

	return schema.StateTransition{
		CorrelationID: id,
		State:         state,
		Quantity:      schema.Quantity(qty),
		Filled:        schema.Quantity(filled),
		Time:          n.stamp(u.Time),
		Error:         errText,
	}, nil
}

// NormalizeExecution applies the defaulting rules to an execution.
func (n *Normalizer) NormalizeExecution(e NativeExecution) (schema.FillConfirmation, error) {
	id := correlationID(e.OrderName, e.OrderID)
	if id == "" {
		return schema.FillConfirmation{}, errors.Wrap(exception.ErrOrderEmptyCorrelation, "normalize execution")
	}
	if !(e.Price > 0) || math.IsInf(e.Price, 0) {
		return schema.FillConfirmation{}, errors.Wrapf(exception.ErrOrderInvalidFill, "correlation: %s, price: %v", id, e.Price)
	}
	if e.Quantity <= 0 {
		return schema.FillConfirmation{}, errors.Wrapf(exception.ErrOrderInvalidFill, "correlation: %s, quantity: %d", id, e.Quantity)
	}

	return schema.FillConfirmation{
		CorrelationID:  id,
		ExecutionID:    strings.TrimSpace(e.ExecutionID),
		Price:          e.Price,
		Quantity:       schema.Quantity(e.Quantity),
		MarketPosition: schema.ParseDirection(e.MarketPosition),
		Time:           n.stamp(e.Time),
	}, nil
}

// DecodeOrderUpdate decodes and normalizes a JSON order update.
func (n *Normalizer) DecodeOrderUpdate(raw []byte) (schema.StateTransition, error) {
	var u NativeOrderUpdate
	if err := sonic.Unmarshal(raw, &u); err != nil {
		return schema.StateTransition{}, errors.Wrapf(exception.ErrOrderDecodeNative, "order update: %v", err)
	}
	return n.NormalizeOrderUpdate(u)
}

// DecodeExecution decodes and normalizes a JSON execution.
func (n *Normalizer) DecodeExecution(raw []byte) (schema.FillConfirmation, error) {
	var e NativeExecution
	if err := sonic.Unmarshal(raw, &e); err != nil {
		return schema.FillConfirmation{}, errors.Wrapf(exception.ErrOrderDecodeNative, "execution: %v", err)
	}
	return n.NormalizeExecution(e)
}

func (n *Normalizer) stamp(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return n.now().UTC()
	}
	return t.UTC()
}

func correlationID(name, orderID string) string {
	if id := strings.TrimSpace(name); id != "" {
		return id
	}
	return strings.TrimSpace(orderID)
}
