package recorder

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yanun0323/errors"

	"hftcore/internal/bus"
)

// ReaderOptions controls frame decoding.
type ReaderOptions struct {
	SkipChecksum   bool
	MaxPayloadSize int
}

// Reader decodes journal frames sequentially.
type Reader struct {
	r       *bufio.Reader
	opts    ReaderOptions
	header  [frameHeaderSize]byte
	trailer [frameTrailerSize]byte
	payload []byte
}

// NewReader wraps r.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{r: bufio.NewReader(r), opts: opts}
}

// Next returns the next frame. The payload is only valid until the next call.
// A clean end of input returns io.EOF; a partial frame returns ErrTruncated.
func (r *Reader) Next() (bus.Event, error) {
	n, err := io.ReadFull(r.r, r.header[:])
	switch {
	case err == io.EOF && n == 0:
		return bus.Event{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		return bus.Event{}, errors.Wrapf(ErrTruncated, "header %d/%d bytes", n, frameHeaderSize)
	case err != nil:
		return bus.Event{}, err
	}

	h, size, err := parseFrameHeader(r.header[:])
	if err != nil {
		return bus.Event{}, err
	}
	limit := uint32(maxPayloadLen)
	if r.opts.MaxPayloadSize > 0 && uint32(r.opts.MaxPayloadSize) < limit {
		limit = uint32(r.opts.MaxPayloadSize)
	}
	if size > limit {
		return bus.Event{}, errors.Wrapf(ErrPayloadTooLarge, "seq %d: %d bytes", h.Seq, size)
	}

	if cap(r.payload) < int(size) {
		r.payload = make([]byte, size)
	}
	r.payload = r.payload[:size]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return bus.Event{}, truncated(err, h.Seq)
	}
	if _, err := io.ReadFull(r.r, r.trailer[:]); err != nil {
		return bus.Event{}, truncated(err, h.Seq)
	}

	if !r.opts.SkipChecksum {
		if binary.LittleEndian.Uint32(r.trailer[:]) != frameChecksum(r.header[:], r.payload) {
			return bus.Event{}, errors.Wrapf(ErrChecksum, "seq %d", h.Seq)
		}
	}
	return bus.Event{Header: h, Payload: r.payload}, nil
}

func truncated(err error, seq uint64) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrTruncated, "seq %d", seq)
	}
	return err
}
