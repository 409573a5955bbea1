package codec

import (
	"hftcore/internal/schema"
)

// EncodeMarketState serializes a market snapshot for tick journaling.
func EncodeMarketState(dst []byte, ms schema.MarketState) []byte {
	w := newWriter(dst, 64+len(ms.Symbol))
	w.str(ms.Symbol)
	w.f64(ms.Price)
	w.time(ms.Timestamp)
	w.f64(ms.TickSize)
	w.f64(ms.PointValue)
	w.f64(ms.Trend)
	w.f64(ms.Volatility)
	w.f64(ms.Momentum)
	return w.buf
}

// DecodeMarketState parses a market snapshot payload.
func DecodeMarketState(src []byte) (schema.MarketState, bool) {
	r := newReader(src)
	ms := schema.MarketState{
		Symbol:     r.str(),
		Price:      r.f64(),
		Timestamp:  r.time(),
		TickSize:   r.f64(),
		PointValue: r.f64(),
		Trend:      r.f64(),
		Volatility: r.f64(),
		Momentum:   r.f64(),
	}
	if !r.ok {
		return schema.MarketState{}, false
	}
	return ms, true
}
