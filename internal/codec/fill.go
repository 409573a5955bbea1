package codec

import (
	"hftcore/internal/schema"
)

// EncodeStateTransition serializes the order-state half of a notification.
func EncodeStateTransition(dst []byte, st schema.StateTransition) []byte {
	w := newWriter(dst, 40+len(st.CorrelationID)+len(st.Error))
	w.str(st.CorrelationID)
	w.u8(uint8(st.State))
	w.i64(int64(st.Quantity))
	w.i64(int64(st.Filled))
	w.time(st.Time)
	w.str(st.Error)
	return w.buf
}

// DecodeStateTransition parses a state-transition payload.
func DecodeStateTransition(src []byte) (schema.StateTransition, bool) {
	r := newReader(src)
	st := schema.StateTransition{
		CorrelationID: r.str(),
		State:         schema.OrderState(r.u8()),
		Quantity:      schema.Quantity(r.i64()),
		Filled:        schema.Quantity(r.i64()),
		Time:          r.time(),
		Error:         r.str(),
	}
	if !r.ok {
		return schema.StateTransition{}, false
	}
	return st, true
}

// EncodeFillConfirmation serializes the execution half of a notification.
func EncodeFillConfirmation(dst []byte, fill schema.FillConfirmation) []byte {
	w := newWriter(dst, 40+len(fill.CorrelationID)+len(fill.ExecutionID))
	w.str(fill.CorrelationID)
	w.str(fill.ExecutionID)
	w.f64(fill.Price)
	w.i64(int64(fill.Quantity))
	w.u8(uint8(fill.MarketPosition))
	w.time(fill.Time)
	return w.buf
}

// DecodeFillConfirmation parses a fill-confirmation payload.
func DecodeFillConfirmation(src []byte) (schema.FillConfirmation, bool) {
	r := newReader(src)
	fill := schema.FillConfirmation{
		CorrelationID:  r.str(),
		ExecutionID:    r.str(),
		Price:          r.f64(),
		Quantity:       schema.Quantity(r.i64()),
		MarketPosition: schema.Direction(r.u8()),
		Time:           r.time(),
	}
	if !r.ok {
		return schema.FillConfirmation{}, false
	}
	return fill, true
}
