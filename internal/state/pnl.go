package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hftcore/internal/schema"
)

const dayLayout = "2006-01-02"

// Summary is a read-only view of one trading day.
type Summary struct {
	Day       string
	Realized  decimal.Decimal
	Trades    int
	Wins      int
	Losses    int
	ByReason  map[schema.ExitReason]int
	LastClose time.Time
}

// DailyPnL folds closed positions into the realized result of the current trading day.
// The day rolls over at midnight in the configured location.
type DailyPnL struct {
	mu        sync.Mutex
	loc       *time.Location
	day       string
	realized  decimal.Decimal
	trades    int
	wins      int
	losses    int
	byReason  map[schema.ExitReason]int
	lastClose time.Time
}

// NewDailyPnL creates an empty reducer. A nil loc means UTC.
func NewDailyPnL(loc *time.Location) *DailyPnL {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyPnL{loc: loc, byReason: make(map[schema.ExitReason]int)}
}

// Apply books one closed position. Closes from an earlier day than the current one are ignored.
func (p *DailyPnL) Apply(pc schema.PositionClosed) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	day := pc.ClosedAt.In(p.loc).Format(dayLayout)
	switch {
	case p.day == "" || day > p.day:
		p.resetLocked(day)
	case day < p.day:
		return false
	}

	p.realized = p.realized.Add(pc.Realized)
	p.trades++
	switch {
	case pc.Realized.IsPositive():
		p.wins++
	case pc.Realized.IsNegative():
		p.losses++
	}
	p.byReason[pc.ExitReason]++
	if pc.ClosedAt.After(p.lastClose) {
		p.lastClose = pc.ClosedAt
	}
	return true
}

// Roll starts a new day when now is past the current one and reports whether it did.
func (p *DailyPnL) Roll(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	day := now.In(p.loc).Format(dayLayout)
	if day <= p.day {
		return false
	}
	p.resetLocked(day)
	return true
}

func (p *DailyPnL) resetLocked(day string) {
	p.day = day
	p.realized = decimal.Zero
	p.trades, p.wins, p.losses = 0, 0, 0
	p.byReason = make(map[schema.ExitReason]int)
	p.lastClose = time.Time{}
}

// Realized returns the realized result of the current day.
func (p *DailyPnL) Realized() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized
}

// RealizedFloat is Realized for the risk gate.
func (p *DailyPnL) RealizedFloat() float64 {
	return p.Realized().InexactFloat64()
}

// Summary returns a copy of the current day.
func (p *DailyPnL) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	by := make(map[schema.ExitReason]int, len(p.byReason))
	for k, v := range p.byReason {
		by[k] = v
	}
	return Summary{
		Day:       p.day,
		Realized:  p.realized,
		Trades:    p.trades,
		Wins:      p.wins,
		Losses:    p.losses,
		ByReason:  by,
		LastClose: p.lastClose,
	}
}
