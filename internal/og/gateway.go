package og

import (
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var ErrGatewayDisconnected = exception.ErrOrderGatewayOffline

// Bridge is the broker adapter that actually works orders.
type Bridge interface {
	SubmitLeg(correlationID string, action schema.OrderAction, qty schema.Quantity) error
	CancelLeg(correlationID string) error
}

// GatewayConfig controls reconnect behaviour.
type GatewayConfig struct {
	Session           string
	ResendOnReconnect bool
}

// Gateway fronts a Bridge, tracks legs until they reach a terminal state and
// resubmits legs the bridge never took after a reconnect.
type Gateway struct {
	cfg    GatewayConfig
	bridge Bridge

	mu        sync.Mutex
	state     *StateMachine
	connected bool
}

// NewGateway wraps bridge.
func NewGateway(cfg GatewayConfig, bridge Bridge) (*Gateway, error) {
	if bridge == nil {
		return nil, exception.ErrOrderNilBridge
	}
	if cfg.Session == "" {
		cfg.Session = "default"
	}
	return &Gateway{
		cfg:       cfg,
		bridge:    bridge,
		state:     NewStateMachine(),
		connected: true,
	}, nil
}

// SubmitLeg registers the leg and forwards it to the bridge. While disconnected the leg is
// kept for resend and ErrGatewayDisconnected is returned. A bridge that reports itself offline
// disconnects the gateway the same way. Any other bridge error drops the leg.
func (g *Gateway) SubmitLeg(correlationID string, action schema.OrderAction, qty schema.Quantity) error {
	g.mu.Lock()
	if _, err := g.state.ApplyRequest(LegRequest{CorrelationID: correlationID, Action: action, Quantity: qty}); err != nil {
		g.mu.Unlock()
		return err
	}
	connected := g.connected
	g.mu.Unlock()

	if !connected {
		return ErrGatewayDisconnected
	}
	if err := g.bridge.SubmitLeg(correlationID, action, qty); err != nil {
		g.onBridgeError(correlationID, err)
		return errors.Wrapf(err, "submit leg %s", correlationID)
	}
	g.markSent(correlationID)
	return nil
}

func (g *Gateway) markSent(correlationID string) {
	g.mu.Lock()
	g.state.MarkSent(correlationID)
	g.mu.Unlock()
}

func (g *Gateway) onBridgeError(correlationID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if errors.Is(err, ErrGatewayDisconnected) {
		if g.connected {
			logs.Errorf("gateway %s: bridge offline, holding legs for resend", g.cfg.Session)
		}
		g.connected = false
		return
	}
	g.state.Forget(correlationID)
}

// CancelLeg forwards a cancel request for a known, live leg.
func (g *Gateway) CancelLeg(correlationID string) error {
	g.mu.Lock()
	l, ok := g.state.Leg(correlationID)
	connected := g.connected
	g.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownLeg, "cancel %s", correlationID)
	}
	if l.State.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "cancel %s in state %s", correlationID, l.State)
	}
	if !connected {
		return ErrGatewayDisconnected
	}
	err := g.bridge.CancelLeg(correlationID)
	if errors.Is(err, ErrGatewayDisconnected) {
		g.Disconnect()
	}
	return err
}

// ObserveState updates the leg from a state-transition half.
func (g *Gateway) ObserveState(st schema.StateTransition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.state.Leg(st.CorrelationID); !ok {
		return
	}
	l, err := g.state.ApplyState(st)
	if err != nil {
		logs.Errorf("gateway %s: %+v", g.cfg.Session, err)
		return
	}
	if l.State.IsTerminal() {
		g.state.Forget(st.CorrelationID)
	}
}

// ObservePaired confirms the leg from a completed pair.
func (g *Gateway) ObservePaired(pe schema.PairedEvent) {
	if pe.Fill == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.state.Leg(pe.CorrelationID); !ok {
		return
	}
	if _, err := g.state.ApplyFill(*pe.Fill); err != nil {
		logs.Errorf("gateway %s: %+v", g.cfg.Session, err)
	}
	g.state.Forget(pe.CorrelationID)
}

// Live returns the number of legs not yet in a terminal state.
func (g *Gateway) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Len()
}

// Disconnect marks the gateway as disconnected.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
}

// Connected reports the link state.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// ResendResult lists the legs resubmitted after a reconnect and the ones the bridge refused.
// Rejected carries a Rejected transition per refused leg for the caller to feed back to the
// ledger.
type ResendResult struct {
	Sent     []string
	Rejected []schema.StateTransition
}

// Reconnect marks the gateway as connected and, with ResendOnReconnect, resubmits the legs the
// bridge never took, in correlation id order. When the bridge goes offline again midway the gateway is
// disconnected, the remaining legs stay queued and ErrGatewayDisconnected is returned.
func (g *Gateway) Reconnect() (ResendResult, error) {
	g.mu.Lock()
	g.connected = true
	var resend []LegRequest
	if g.cfg.ResendOnReconnect {
		for _, l := range g.state.legs {
			if l.State == schema.LegStateIntent && !l.Sent {
				resend = append(resend, l.LegRequest)
			}
		}
	}
	g.mu.Unlock()
	sort.Slice(resend, func(i, j int) bool { return resend[i].CorrelationID < resend[j].CorrelationID })

	var res ResendResult
	for _, req := range resend {
		err := g.bridge.SubmitLeg(req.CorrelationID, req.Action, req.Quantity)
		if err == nil {
			g.markSent(req.CorrelationID)
			res.Sent = append(res.Sent, req.CorrelationID)
			continue
		}
		g.onBridgeError(req.CorrelationID, err)
		if errors.Is(err, ErrGatewayDisconnected) {
			return res, err
		}
		logs.Errorf("gateway %s resend %s: %+v", g.cfg.Session, req.CorrelationID, err)
		res.Rejected = append(res.Rejected, schema.StateTransition{
			CorrelationID: req.CorrelationID,
			State:         schema.OrderStateRejected,
			Quantity:      req.Quantity,
			Time:          time.Now().UTC(),
			Error:         err.Error(),
		})
	}
	return res, nil
}
