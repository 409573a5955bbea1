package exception

import "github.com/yanun0323/errors"

var (
	ErrTelemetryNilSink   = errors.New("telemetry: nil sink")
	ErrTelemetryQueueFull = errors.New("telemetry: queue full")
)

var (
	ErrConfigEmptyPath = errors.New("config: empty path")
	ErrConfigInvalid   = errors.New("config: invalid")
)
