package exception

import "github.com/yanun0323/errors"

var (
	ErrSignalEmptyName       = errors.New("signal: empty name")
	ErrSignalInvalidSide     = errors.New("signal: invalid direction")
	ErrSignalInvalidDecay    = errors.New("signal: decay rate must be in (0,1)")
	ErrSignalInvalidConf     = errors.New("signal: confidence must be in [0,1]")
	ErrSignalInvalidStrength = errors.New("signal: initial strength must be > 0")
	ErrSignalMultiplierFault = errors.New("signal: condition multiplier fault")
)

var (
	ErrIntakeDuplicateID    = errors.New("intake: duplicate strategy id")
	ErrIntakeNilEvaluator   = errors.New("intake: nil evaluator")
	ErrIntakeEvaluatorPanic = errors.New("intake: evaluator panic")
)
