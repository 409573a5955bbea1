package recorder

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/bus"
	"hftcore/internal/codec"
	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Journal stamps domain events with a sequence number and queues them on a Writer.
// A nil *Journal discards everything.
type Journal struct {
	w       *Writer
	seq     *obs.Sequencer
	metrics *obs.Metrics
	now     func() time.Time
}

// NewJournal continues numbering after lastSeq.
func NewJournal(w *Writer, lastSeq uint64, metrics *obs.Metrics) *Journal {
	return &Journal{w: w, seq: obs.NewSequencer(lastSeq), metrics: metrics, now: time.Now}
}

// LastSeq returns the last sequence number handed out.
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	return j.seq.Last()
}

func (j *Journal) Market(ms schema.MarketState) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventMarketData, schema.SourceTick, ms.Timestamp, codec.EncodeMarketState(nil, ms))
}

func (j *Journal) EntryDecision(d schema.EntryDecision) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventEntryDecision, schema.SourceTick, d.DecidedAt, codec.EncodeEntryDecision(nil, d))
}

func (j *Journal) RiskDecision(d schema.RiskDecision, at time.Time) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventRiskDecision, schema.SourceTick, at, codec.EncodeRiskDecision(nil, d))
}

func (j *Journal) StateTransition(st schema.StateTransition) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventStateTransition, schema.SourceBroker, st.Time, codec.EncodeStateTransition(nil, st))
}

func (j *Journal) Fill(f schema.FillConfirmation) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventFillConfirmation, schema.SourceBroker, f.Time, codec.EncodeFillConfirmation(nil, f))
}

func (j *Journal) Opened(po schema.PositionOpened) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventPositionOpened, schema.SourceLedger, po.OpenedAt, codec.EncodePositionOpened(nil, po))
}

func (j *Journal) Closed(pc schema.PositionClosed) error {
	if j == nil {
		return nil
	}
	return j.append(schema.EventPositionClosed, schema.SourceLedger, pc.ClosedAt, codec.EncodePositionClosed(nil, pc))
}

func (j *Journal) append(t schema.EventType, source uint16, at time.Time, payload []byte) error {
	recv := j.now()
	if at.IsZero() {
		at = recv
	}
	h := schema.NewHeader(t, source, j.seq.Next(), at.UnixNano(), recv.UnixNano())
	err := j.w.Append(bus.Event{Header: h, Payload: payload})
	switch {
	case err == nil:
		j.metrics.ObserveEvent(h)
	case stderrors.Is(err, bus.ErrQueueFull):
		j.metrics.Inc(obs.CounterQueueDrop)
	case stderrors.Is(err, bus.ErrQueueClosed), stderrors.Is(err, exception.ErrJournalClosed):
		j.metrics.Inc(obs.CounterQueueClosed)
	}
	return err
}

// Visitor routes decoded frames to typed callbacks. Nil callbacks skip their event type.
type Visitor struct {
	Market          func(schema.EventHeader, schema.MarketState) error
	EntryDecision   func(schema.EventHeader, schema.EntryDecision) error
	RiskDecision    func(schema.EventHeader, schema.RiskDecision) error
	StateTransition func(schema.EventHeader, schema.StateTransition) error
	Fill            func(schema.EventHeader, schema.FillConfirmation) error
	Opened          func(schema.EventHeader, schema.PositionOpened) error
	Closed          func(schema.EventHeader, schema.PositionClosed) error
}

// Visit decodes ev and calls the matching callback. Unknown event types are ignored.
func (v Visitor) Visit(ev bus.Event) error {
	h := ev.Header
	bad := func() error {
		return errors.Wrapf(exception.ErrJournalDecode, "%s seq %d", h.Type, h.Seq)
	}

	switch h.Type {
	case schema.EventMarketData:
		if v.Market == nil {
			return nil
		}
		ms, ok := codec.DecodeMarketState(ev.Payload)
		if !ok {
			return bad()
		}
		return v.Market(h, ms)
	case schema.EventEntryDecision:
		if v.EntryDecision == nil {
			return nil
		}
		d, ok := codec.DecodeEntryDecision(ev.Payload)
		if !ok {
			return bad()
		}
		return v.EntryDecision(h, d)
	case schema.EventRiskDecision:
		if v.RiskDecision == nil {
			return nil
		}
		d, ok := codec.DecodeRiskDecision(ev.Payload)
		if !ok {
			return bad()
		}
		return v.RiskDecision(h, d)
	case schema.EventStateTransition:
		if v.StateTransition == nil {
			return nil
		}
		st, ok := codec.DecodeStateTransition(ev.Payload)
		if !ok {
			return bad()
		}
		return v.StateTransition(h, st)
	case schema.EventFillConfirmation:
		if v.Fill == nil {
			return nil
		}
		f, ok := codec.DecodeFillConfirmation(ev.Payload)
		if !ok {
			return bad()
		}
		return v.Fill(h, f)
	case schema.EventPositionOpened:
		if v.Opened == nil {
			return nil
		}
		po, ok := codec.DecodePositionOpened(ev.Payload)
		if !ok {
			return bad()
		}
		return v.Opened(h, po)
	case schema.EventPositionClosed:
		if v.Closed == nil {
			return nil
		}
		pc, ok := codec.DecodePositionClosed(ev.Payload)
		if !ok {
			return bad()
		}
		return v.Closed(h, pc)
	default:
		return nil
	}
}
