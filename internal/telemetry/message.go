package telemetry

import (
	"time"

	"github.com/shopspring/decimal"

	"hftcore/internal/schema"
)

// Kind tags a telemetry message.
type Kind string

const (
	KindPositionOpened Kind = "position_opened"
	KindPositionClosed Kind = "position_closed"
)

// Message is the wire form published to every sink. Prices travel as decimal strings.
type Message struct {
	Kind          Kind            `json:"kind"`
	RecordID      uint64          `json:"recordId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Direction     string          `json:"direction"`
	Quantity      int64           `json:"quantity"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	ExitPrice     decimal.Decimal `json:"exitPrice"`
	Realized      decimal.Decimal `json:"realized"`
	ExitReason    string          `json:"exitReason,omitempty"`
	PatternID     string          `json:"patternId,omitempty"`
	OpenedAt      time.Time       `json:"openedAt"`
	ClosedAt      time.Time       `json:"closedAt"`
}

// FromOpened converts a ledger open event.
func FromOpened(ev schema.PositionOpened) Message {
	return Message{
		Kind:          KindPositionOpened,
		RecordID:      ev.RecordID,
		CorrelationID: ev.CorrelationID,
		Direction:     ev.Direction.String(),
		Quantity:      int64(ev.Quantity),
		EntryPrice:    ev.EntryPrice,
		PatternID:     ev.PatternID,
		OpenedAt:      ev.OpenedAt,
	}
}

// FromClosed converts a ledger close event.
func FromClosed(ev schema.PositionClosed) Message {
	return Message{
		Kind:       KindPositionClosed,
		RecordID:   ev.RecordID,
		Direction:  ev.Direction.String(),
		Quantity:   int64(ev.Quantity),
		EntryPrice: ev.EntryPrice,
		ExitPrice:  ev.ExitPrice,
		Realized:   ev.Realized,
		ExitReason: ev.ExitReason.String(),
		PatternID:  ev.PatternID,
		OpenedAt:   ev.OpenedAt,
		ClosedAt:   ev.ClosedAt,
	}
}
