package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderDuplicateLeg      = errors.New("order: duplicate leg")
	ErrOrderUnknownLeg        = errors.New("order: unknown leg")
	ErrOrderInvalidTransition = errors.New("order: invalid leg transition")
	ErrOrderInvalidFill       = errors.New("order: invalid fill")
	ErrOrderUnknownState      = errors.New("order: unknown order state")
	ErrOrderEmptyCorrelation  = errors.New("order: empty correlation id")
	ErrOrderDecodeNative      = errors.New("order: decode native notification")
	ErrOrderNilBridge         = errors.New("order: nil bridge")
	ErrOrderGatewayOffline    = errors.New("order: gateway disconnected")
	ErrOrderUnsupportedAction = errors.New("order: unsupported action")
)

// Synchronizer anomalies.
var (
	ErrOrderDuplicateHalf = errors.New("order: duplicate notification half")
	ErrOrderAlreadyPaired = errors.New("order: correlation already completed")
	ErrOrderNilHandler    = errors.New("order: nil handler")
	ErrOrderWrongMode     = errors.New("order: notification not accepted in this mode")
)
