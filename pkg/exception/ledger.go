package exception

import "github.com/yanun0323/errors"

// Ledger errors
var (
	// ErrLedgerFault is returned by every ledger call after an unexpected failure inside a transition.
	ErrLedgerFault = errors.New("ledger: faulted")

	ErrLedgerUnknownRecord   = errors.New("ledger: unknown record")
	ErrLedgerInvalidDecision = errors.New("ledger: invalid entry decision")
	ErrLedgerInvalidQuantity = errors.New("ledger: invalid quantity")
	ErrLedgerNotOpen         = errors.New("ledger: position not open")
	ErrLedgerExitInFlight    = errors.New("ledger: exit already in flight")
	ErrLedgerAlreadyFilled   = errors.New("ledger: entry already filled")
	ErrLedgerHalted          = errors.New("ledger: halted")
)

var (
	ErrRiskDenied = errors.New("risk: entry denied")
	ErrCoreHalted = errors.New("core: halted")
)
