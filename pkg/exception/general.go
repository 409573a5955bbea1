package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInternal        = errors.New("internal error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBuffTooSmall    = errors.New("encode buff is too small")
	ErrQueueFull       = errors.New("queue full")
	ErrQueueClosed     = errors.New("queue closed")
)
