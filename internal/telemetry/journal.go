package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TradeRow is one round trip in the trade journal table.
type TradeRow struct {
	RecordID   uint64          `gorm:"primaryKey;autoIncrement:false"`
	Direction  string          `gorm:"size:8;not null"`
	Quantity   int64           `gorm:"not null"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(20,8)"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric(20,8)"`
	Realized   decimal.Decimal `gorm:"type:numeric(20,8)"`
	ExitReason string          `gorm:"size:16"`
	PatternID  string          `gorm:"size:64;index"`
	Status     string          `gorm:"size:8;index"`
	OpenedAt   time.Time
	ClosedAt   *time.Time
	UpdatedAt  time.Time
}

func (TradeRow) TableName() string { return "trades" }

const (
	statusOpen   = "open"
	statusClosed = "closed"
)

func rowFromMessage(msg Message) TradeRow {
	row := TradeRow{
		RecordID:   msg.RecordID,
		Direction:  msg.Direction,
		Quantity:   msg.Quantity,
		EntryPrice: msg.EntryPrice,
		PatternID:  msg.PatternID,
		Status:     statusOpen,
		OpenedAt:   msg.OpenedAt,
	}
	if msg.Kind == KindPositionClosed {
		closed := msg.ClosedAt
		row.ExitPrice = msg.ExitPrice
		row.Realized = msg.Realized
		row.ExitReason = msg.ExitReason
		row.Status = statusClosed
		row.ClosedAt = &closed
	}
	return row
}

// JournalSink upserts trades into Postgres through gorm.
type JournalSink struct {
	db    *gorm.DB
	close func() error
}

// NewJournalSink migrates the trades table. closeFn releases the pool and may be nil.
func NewJournalSink(ctx context.Context, db *gorm.DB, closeFn func() error) (*JournalSink, error) {
	if err := db.WithContext(ctx).AutoMigrate(&TradeRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate trades")
	}
	return &JournalSink{db: db, close: closeFn}, nil
}

func (s *JournalSink) Name() string { return "postgres" }

// Publish inserts on open and overwrites the row on close; a close that overtakes its open
// still lands a complete row.
func (s *JournalSink) Publish(ctx context.Context, msg Message) error {
	row := rowFromMessage(msg)
	upsert := clause.OnConflict{
		Columns: []clause.Column{{Name: "record_id"}},
	}
	if msg.Kind == KindPositionClosed {
		upsert.DoUpdates = clause.AssignmentColumns([]string{"exit_price", "realized", "exit_reason", "status", "closed_at", "updated_at"})
	} else {
		upsert.DoNothing = true
	}
	if err := s.db.WithContext(ctx).Clauses(upsert).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "upsert trade %d", msg.RecordID)
	}
	return nil
}

func (s *JournalSink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
