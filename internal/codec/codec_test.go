package codec

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
)

func TestStateTransitionTruncated(t *testing.T) {
	st := schema.StateTransition{
		CorrelationID: "c-1",
		State:         schema.OrderStateRejected,
		Quantity:      2,
		Time:          time.Unix(0, 1700000000000000000).UTC(),
		Error:         "margin",
	}
	payload := EncodeStateTransition(nil, st)

	got, ok := DecodeStateTransition(payload)
	require.True(t, ok)
	assert.Equal(t, st, got)

	for i := 0; i < len(payload); i++ {
		if _, ok := DecodeStateTransition(payload[:i]); ok {
			t.Fatalf("decode of %d/%d bytes should fail", i, len(payload))
		}
	}
}

func TestFillConfirmationReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 256)
	fill := schema.FillConfirmation{
		CorrelationID:  "c-2",
		ExecutionID:    "x-9",
		Price:          5012.25,
		Quantity:       1,
		MarketPosition: schema.DirectionShort,
	}
	payload := EncodeFillConfirmation(buf, fill)
	assert.Equal(t, &buf[:1][0], &payload[:1][0])

	got, ok := DecodeFillConfirmation(payload)
	require.True(t, ok)
	assert.Equal(t, fill, got)
	assert.True(t, got.Time.IsZero())
}

func TestPositionClosedKeepsDecimalPrecision(t *testing.T) {
	pc := schema.PositionClosed{
		RecordID:   7,
		Direction:  schema.DirectionLong,
		Quantity:   3,
		EntryPrice: decimal.RequireFromString("100.25"),
		ExitPrice:  decimal.RequireFromString("100.75"),
		Realized:   decimal.RequireFromString("75.00"),
		ExitReason: schema.ExitReasonTarget,
		PatternID:  "breakout",
	}
	got, ok := DecodePositionClosed(EncodePositionClosed(nil, pc))
	require.True(t, ok)
	assert.True(t, pc.Realized.Equal(got.Realized))
	assert.True(t, pc.EntryPrice.Equal(got.EntryPrice))
	assert.Equal(t, schema.ExitReasonTarget, got.ExitReason)
	assert.Equal(t, "breakout", got.PatternID)
}

func TestPositionClosedRejectsBadDecimal(t *testing.T) {
	w := newWriter(nil, 64)
	w.u64(1)
	w.u8(1)
	w.i64(1)
	w.str("not-a-number")
	w.str("1")
	w.str("1")
	w.u8(0)
	w.str("")
	w.time(time.Time{})
	w.time(time.Time{})
	_, ok := DecodePositionClosed(w.buf)
	assert.False(t, ok)
}

func TestFixedPayloadSizes(t *testing.T) {
	assert.Len(t, EncodeRiskDecision(nil, schema.RiskDecision{}), RiskDecisionPayloadSize)
	assert.Len(t, EncodeEntryDecision(nil, schema.EntryDecision{}), EntryDecisionPayloadSize)

	_, ok := DecodeRiskDecision(make([]byte, RiskDecisionPayloadSize-1))
	assert.False(t, ok)
}

func TestStringLengthGuard(t *testing.T) {
	r := newReader([]byte{0xff, 0xff, 'a'})
	_ = r.str()
	assert.False(t, r.ok)
}
