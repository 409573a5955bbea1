package exception

import "github.com/yanun0323/errors"

// Journal errors
var (
	ErrJournalBadMagic       = errors.New("journal: bad frame magic")
	ErrJournalFrameVersion   = errors.New("journal: unsupported frame version")
	ErrJournalChecksum       = errors.New("journal: checksum mismatch")
	ErrJournalPayloadTooLong = errors.New("journal: payload too large")
	ErrJournalTruncated      = errors.New("journal: truncated frame")
	ErrJournalDecode         = errors.New("journal: payload decode failed")
	ErrJournalNotStarted     = errors.New("journal: writer not started")
	ErrJournalStarted        = errors.New("journal: writer already started")
	ErrJournalClosed         = errors.New("journal: writer closed")
)
