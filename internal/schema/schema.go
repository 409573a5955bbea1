package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 2

// EventType defines the category of an event stored in the journal.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventMarketData
	EventEntryDecision
	EventRiskDecision
	EventLegIntent
	EventStateTransition
	EventFillConfirmation
	EventPositionOpened
	EventPositionClosed
)

func (t EventType) String() string {
	switch t {
	case EventMarketData:
		return "market_data"
	case EventEntryDecision:
		return "entry_decision"
	case EventRiskDecision:
		return "risk_decision"
	case EventLegIntent:
		return "leg_intent"
	case EventStateTransition:
		return "state_transition"
	case EventFillConfirmation:
		return "fill_confirmation"
	case EventPositionOpened:
		return "position_opened"
	case EventPositionClosed:
		return "position_closed"
	default:
		return "unknown"
	}
}

// Source identifies the producer of an event.
const (
	SourceUnknown uint16 = iota
	SourceTick
	SourceBroker
	SourceLedger
)

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
