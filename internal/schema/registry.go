package schema

import (
	"github.com/yanun0323/errors"

	"hftcore/pkg/exception"
)

// InstrumentID is the numeric identifier for an instrument.
type InstrumentID uint32

// Instrument describes a tradable contract and its price arithmetic.
type Instrument struct {
	ID         InstrumentID
	Name       string
	TickSize   float64
	PointValue float64
}

// Registry stores instruments in a compact form.
type Registry struct {
	instruments []Instrument
	byName      map[string]InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]InstrumentID)}
}

// AddInstrument registers a new instrument and returns its ID.
func (r *Registry) AddInstrument(name string, tickSize, pointValue float64) (InstrumentID, error) {
	if name == "" {
		return 0, errors.Wrap(exception.ErrInvalidArgument, "instrument name is empty")
	}
	if tickSize <= 0 {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: tick size must be > 0", name)
	}
	if pointValue <= 0 {
		return 0, errors.Wrapf(exception.ErrInvalidArgument, "instrument %s: point value must be > 0", name)
	}
	if id, ok := r.byName[name]; ok {
		return id, errors.Wrapf(exception.ErrInvalidArgument, "instrument already exists: %s", name)
	}
	id := InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, Instrument{
		ID:         id,
		Name:       name,
		TickSize:   tickSize,
		PointValue: pointValue,
	})
	r.byName[name] = id
	return id, nil
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// InstrumentByName returns the instrument registered under name.
func (r *Registry) InstrumentByName(name string) (Instrument, bool) {
	id, ok := r.byName[name]
	if !ok {
		return Instrument{}, false
	}
	return r.Instrument(id)
}

// Count returns the number of instruments in the registry.
func (r *Registry) Count() int {
	return len(r.instruments)
}

// RoundToTick snaps price to the instrument tick grid.
func (i Instrument) RoundToTick(price float64) float64 {
	if i.TickSize <= 0 {
		return price
	}
	ticks := price / i.TickSize
	if ticks < 0 {
		return -float64(int64(-ticks+0.5)) * i.TickSize
	}
	return float64(int64(ticks+0.5)) * i.TickSize
}
