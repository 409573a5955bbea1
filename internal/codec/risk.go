package codec

import (
	"hftcore/internal/schema"
)

const RiskDecisionPayloadSize = 30

// EncodeRiskDecision serializes a risk decision into a fixed-size payload.
func EncodeRiskDecision(dst []byte, decision schema.RiskDecision) []byte {
	w := newWriter(dst, RiskDecisionPayloadSize)
	w.u8(uint8(decision.Action))
	w.u8(uint8(decision.Reason))
	w.u16(decision.Version)
	w.u8(uint8(decision.Direction))
	w.u8(0)
	w.i64(int64(decision.ProposedQty))
	w.i64(int64(decision.OpenPositions))
	w.f64(decision.DailyRealized)
	return w.buf
}

// DecodeRiskDecision parses a fixed-size risk decision payload.
func DecodeRiskDecision(src []byte) (schema.RiskDecision, bool) {
	if len(src) < RiskDecisionPayloadSize {
		return schema.RiskDecision{}, false
	}
	r := newReader(src)
	d := schema.RiskDecision{
		Action:  schema.RiskAction(r.u8()),
		Reason:  schema.RiskReason(r.u8()),
		Version: r.u16(),
	}
	d.Direction = schema.Direction(r.u8())
	_ = r.u8()
	d.ProposedQty = schema.Quantity(r.i64())
	d.OpenPositions = int(r.i64())
	d.DailyRealized = r.f64()
	return d, r.ok
}

const EntryDecisionPayloadSize = 33

// EncodeEntryDecision serializes an entry decision into a fixed-size payload.
func EncodeEntryDecision(dst []byte, decision schema.EntryDecision) []byte {
	w := newWriter(dst, EntryDecisionPayloadSize)
	w.u8(uint8(decision.Direction))
	w.f64(decision.Strength)
	w.f64(decision.OpposingStrength)
	w.f64(decision.Confidence)
	w.time(decision.DecidedAt)
	return w.buf
}

// DecodeEntryDecision parses a fixed-size entry decision payload.
func DecodeEntryDecision(src []byte) (schema.EntryDecision, bool) {
	if len(src) < EntryDecisionPayloadSize {
		return schema.EntryDecision{}, false
	}
	r := newReader(src)
	d := schema.EntryDecision{
		Direction:        schema.Direction(r.u8()),
		Strength:         r.f64(),
		OpposingStrength: r.f64(),
		Confidence:       r.f64(),
		DecidedAt:        r.time(),
	}
	return d, r.ok
}
