package recorder

import (
	"time"

	"github.com/yanun0323/errors"

	"hftcore/pkg/exception"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultSegmentMaxAge         = 15 * time.Minute
	defaultQueueSize             = 4096
	defaultBufferSize            = 64 * 1024
	defaultFilePrefix            = "journal"
	segmentSuffix                = ".wal"
)

// Config controls the journal writer.
type Config struct {
	Dir             string        `json:"dir"`
	FilePrefix      string        `json:"filePrefix"`
	SegmentMaxBytes int64         `json:"segmentMaxBytes"`
	SegmentMaxAge   time.Duration `json:"segmentMaxAge"`
	QueueSize       int           `json:"queueSize"`
	BufferSize      int           `json:"bufferSize"`
	FlushInterval   time.Duration `json:"flushInterval"`
	// SyncOnFlush fsyncs the active segment on every flush tick.
	SyncOnFlush     bool          `json:"syncOnFlush"`
}

// DefaultConfig returns a writer configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		FilePrefix:      defaultFilePrefix,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		SegmentMaxAge:   defaultSegmentMaxAge,
		QueueSize:       defaultQueueSize,
		BufferSize:      defaultBufferSize,
		FlushInterval:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.Wrap(exception.ErrConfigInvalid, "journal dir is empty")
	case c.FilePrefix == "":
		return errors.Wrap(exception.ErrConfigInvalid, "journal file prefix is empty")
	case c.SegmentMaxBytes <= 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "journal segment max bytes %d", c.SegmentMaxBytes)
	case c.SegmentMaxAge < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "journal segment max age %s", c.SegmentMaxAge)
	case c.QueueSize <= 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "journal queue size %d", c.QueueSize)
	case c.BufferSize <= 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "journal buffer size %d", c.BufferSize)
	case c.FlushInterval < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "journal flush interval %s", c.FlushInterval)
	}
	return nil
}
