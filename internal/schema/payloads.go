package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quantity is a whole number of contracts.
type Quantity int64

// Direction is the side of a round-trip trade.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionLong
	DirectionShort
)

// ParseDirection accepts "long"/"short" in any case.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "bull":
		return DirectionLong
	case "short", "sell", "bear":
		return DirectionShort
	default:
		return DirectionUnknown
	}
}

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "unknown"
	}
}

// IsValid reports whether d is long or short.
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionUnknown
	}
}

// Sign is +1 for long, -1 for short and 0 otherwise.
func (d Direction) Sign() int64 {
	switch d {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// OrderAction is the action sent to the broker bridge.
type OrderAction uint8

const (
	OrderActionUnknown OrderAction = iota
	OrderActionBuy
	OrderActionSell
	OrderActionSellShort
	OrderActionBuyToCover
)

func (a OrderAction) String() string {
	switch a {
	case OrderActionBuy:
		return "buy"
	case OrderActionSell:
		return "sell"
	case OrderActionSellShort:
		return "sell_short"
	case OrderActionBuyToCover:
		return "buy_to_cover"
	default:
		return "unknown"
	}
}

// EntryAction returns the order action that opens a position in d.
func EntryAction(d Direction) OrderAction {
	switch d {
	case DirectionLong:
		return OrderActionBuy
	case DirectionShort:
		return OrderActionSellShort
	default:
		return OrderActionUnknown
	}
}

// ExitAction returns the order action that closes a position in d.
func ExitAction(d Direction) OrderAction {
	switch d {
	case DirectionLong:
		return OrderActionSell
	case DirectionShort:
		return OrderActionBuyToCover
	default:
		return OrderActionUnknown
	}
}

// LegKind tells an entry leg from an exit leg.
type LegKind uint8

const (
	LegKindUnknown LegKind = iota
	LegKindEntry
	LegKindExit
)

func (k LegKind) String() string {
	switch k {
	case LegKindEntry:
		return "entry"
	case LegKindExit:
		return "exit"
	default:
		return "unknown"
	}
}

// LegState is the ledger's lifecycle state of one leg.
type LegState uint8

const (
	LegStateIntent LegState = iota
	LegStateSubmitted
	LegStateConfirmed
	LegStateCancelled
	LegStateRejected
)

func (s LegState) String() string {
	switch s {
	case LegStateIntent:
		return "intent"
	case LegStateSubmitted:
		return "submitted"
	case LegStateConfirmed:
		return "confirmed"
	case LegStateCancelled:
		return "cancelled"
	case LegStateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s LegState) IsTerminal() bool {
	return s == LegStateConfirmed || s == LegStateCancelled || s == LegStateRejected
}

// OrderState is the broker-reported order state carried by a state-transition notification.
type OrderState uint8

const (
	OrderStateUnknown OrderState = iota
	OrderStateSubmitted
	OrderStateAccepted
	OrderStateWorking
	OrderStatePartFilled
	OrderStateFilled
	OrderStateCancelled
	OrderStateRejected
)

func (s OrderState) String() string {
	switch s {
	case OrderStateSubmitted:
		return "submitted"
	case OrderStateAccepted:
		return "accepted"
	case OrderStateWorking:
		return "working"
	case OrderStatePartFilled:
		return "part_filled"
	case OrderStateFilled:
		return "filled"
	case OrderStateCancelled:
		return "cancelled"
	case OrderStateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Signal is emitted by a strategy evaluator for one tick.
type Signal struct {
	Name             string
	Direction        Direction
	Confidence       float64
	InitialStrength  float64
	DecayRate        float64
	DecayCondition   string
	StrengthCap      float64
	ContradictionTag string
	Accumulates      bool
}

// MarketState is the read-only market feed snapshot for one tick.
type MarketState struct {
	Symbol     string
	Price      float64
	Timestamp  time.Time
	TickSize   float64
	PointValue float64

	// Trend is the slope sign of the feed's moving average: >0 up, <0 down.
	Trend float64
	// Volatility is the short/long realized range ratio; 1 is neutral.
	Volatility float64
	// Momentum is the price change over the feed's lookback in ticks.
	Momentum float64
}

// StateTransition is the normalized order-state notification half.
type StateTransition struct {
	CorrelationID string
	State         OrderState
	Quantity      Quantity
	Filled        Quantity
	Time          time.Time
	Error         string
}

// FillConfirmation is the normalized execution notification half.
type FillConfirmation struct {
	CorrelationID  string
	ExecutionID    string
	Price          float64
	Quantity       Quantity
	MarketPosition Direction
	Time           time.Time
}

// PairedEvent carries both halves of a confirmed leg.
type PairedEvent struct {
	CorrelationID string
	State         *StateTransition
	Fill          *FillConfirmation
}

// Complete reports whether both halves are present.
func (p PairedEvent) Complete() bool {
	return p.State != nil && p.Fill != nil
}

// EntryDecision is produced when directional consensus clears the entry gate.
type EntryDecision struct {
	Direction        Direction
	Strength         float64
	OpposingStrength float64
	Confidence       float64
	DecidedAt        time.Time
}

// RiskAction is the outcome of a risk decision.
type RiskAction uint8

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskReason is a coarse reason code for risk decisions.
type RiskReason uint8

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxQty
	RiskReasonRateLimit
	RiskReasonCapacity
	RiskReasonEntrySpacing
	RiskReasonDailyLoss
	RiskReasonDailyProfit
	RiskReasonHalted
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "none"
	case RiskReasonKillSwitch:
		return "kill_switch"
	case RiskReasonMaxQty:
		return "max_qty"
	case RiskReasonRateLimit:
		return "rate_limit"
	case RiskReasonCapacity:
		return "capacity"
	case RiskReasonEntrySpacing:
		return "entry_spacing"
	case RiskReasonDailyLoss:
		return "daily_loss"
	case RiskReasonDailyProfit:
		return "daily_profit"
	case RiskReasonHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// RiskDecision is the risk gate's answer for one entry decision.
type RiskDecision struct {
	Action        RiskAction
	Reason        RiskReason
	Version       uint16
	Direction     Direction
	ProposedQty   Quantity
	OpenPositions int
	DailyRealized float64
}

// Allowed reports whether the decision lets the entry through.
func (d RiskDecision) Allowed() bool {
	return d.Action == RiskActionAllow
}

// ExitReason is the code attached to a closed position.
type ExitReason uint8

const (
	ExitReasonNone ExitReason = iota
	ExitReasonConsensus
	ExitReasonStopLoss
	ExitReasonTarget
	ExitReasonForced
	ExitReasonTimeout
	ExitReasonFlatten
	ExitReasonManual
)

func (r ExitReason) String() string {
	switch r {
	case ExitReasonNone:
		return "none"
	case ExitReasonConsensus:
		return "consensus"
	case ExitReasonStopLoss:
		return "stop_loss"
	case ExitReasonTarget:
		return "target"
	case ExitReasonForced:
		return "forced"
	case ExitReasonTimeout:
		return "timeout"
	case ExitReasonFlatten:
		return "flatten"
	case ExitReasonManual:
		return "manual"
	default:
		return "unknown"
	}
}

// PositionOpened is emitted once the entry leg of a record is confirmed.
type PositionOpened struct {
	RecordID      uint64
	CorrelationID string
	Direction     Direction
	Quantity      Quantity
	EntryPrice    decimal.Decimal
	PatternID     string
	OpenedAt      time.Time
}

// PositionClosed is emitted once per record when its exit leg is confirmed.
type PositionClosed struct {
	RecordID   uint64
	Direction  Direction
	Quantity   Quantity
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Realized   decimal.Decimal
	ExitReason ExitReason
	PatternID  string
	OpenedAt   time.Time
	ClosedAt   time.Time
}
