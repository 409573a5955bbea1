package codec

import (
	"github.com/shopspring/decimal"

	"hftcore/internal/schema"
)

// EncodePositionClosed serializes a closed position. Money fields are written as decimal strings.
func EncodePositionClosed(dst []byte, pc schema.PositionClosed) []byte {
	w := newWriter(dst, 96+len(pc.PatternID))
	w.u64(pc.RecordID)
	w.u8(uint8(pc.Direction))
	w.i64(int64(pc.Quantity))
	w.str(pc.EntryPrice.String())
	w.str(pc.ExitPrice.String())
	w.str(pc.Realized.String())
	w.u8(uint8(pc.ExitReason))
	w.str(pc.PatternID)
	w.time(pc.OpenedAt)
	w.time(pc.ClosedAt)
	return w.buf
}

// DecodePositionClosed parses a closed-position payload.
func DecodePositionClosed(src []byte) (schema.PositionClosed, bool) {
	r := newReader(src)
	pc := schema.PositionClosed{
		RecordID:  r.u64(),
		Direction: schema.Direction(r.u8()),
		Quantity:  schema.Quantity(r.i64()),
	}
	entry, exit, realized := r.str(), r.str(), r.str()
	pc.ExitReason = schema.ExitReason(r.u8())
	pc.PatternID = r.str()
	pc.OpenedAt = r.time()
	pc.ClosedAt = r.time()
	if !r.ok {
		return schema.PositionClosed{}, false
	}

	var err error
	if pc.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return schema.PositionClosed{}, false
	}
	if pc.ExitPrice, err = decimal.NewFromString(exit); err != nil {
		return schema.PositionClosed{}, false
	}
	if pc.Realized, err = decimal.NewFromString(realized); err != nil {
		return schema.PositionClosed{}, false
	}
	return pc, true
}

// EncodePositionOpened serializes an opened position.
func EncodePositionOpened(dst []byte, po schema.PositionOpened) []byte {
	w := newWriter(dst, 64+len(po.CorrelationID)+len(po.PatternID))
	w.u64(po.RecordID)
	w.str(po.CorrelationID)
	w.u8(uint8(po.Direction))
	w.i64(int64(po.Quantity))
	w.str(po.EntryPrice.String())
	w.str(po.PatternID)
	w.time(po.OpenedAt)
	return w.buf
}

// DecodePositionOpened parses an opened-position payload.
func DecodePositionOpened(src []byte) (schema.PositionOpened, bool) {
	r := newReader(src)
	po := schema.PositionOpened{
		RecordID:      r.u64(),
		CorrelationID: r.str(),
		Direction:     schema.Direction(r.u8()),
		Quantity:      schema.Quantity(r.i64()),
	}
	entry := r.str()
	po.PatternID = r.str()
	po.OpenedAt = r.time()
	if !r.ok {
		return schema.PositionOpened{}, false
	}
	price, err := decimal.NewFromString(entry)
	if err != nil {
		return schema.PositionOpened{}, false
	}
	po.EntryPrice = price
	return po, true
}
