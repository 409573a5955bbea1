package codec

import (
	"encoding/binary"
	"math"
	"time"
)

// maxStringLen bounds length-prefixed strings so a corrupt prefix cannot allocate unbounded memory.
const maxStringLen = 1 << 12

type writer struct {
	buf []byte
}

func newWriter(dst []byte, hint int) *writer {
	if cap(dst) < hint {
		dst = make([]byte, 0, hint)
	}
	return &writer{buf: dst[:0]}
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *writer) i64(v int64) {
	w.u64(uint64(v))
}

func (w *writer) f64(v float64) {
	w.u64(math.Float64bits(v))
}

func (w *writer) time(t time.Time) {
	if t.IsZero() {
		w.i64(0)
		return
	}
	w.i64(t.UnixNano())
}

func (w *writer) str(s string) {
	if len(s) > maxStringLen {
		s = s[:maxStringLen]
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) boolean(b bool) {
	if b {
		w.u8(1)
		return
	}
	w.u8(0)
}

type reader struct {
	src []byte
	off int
	ok  bool
}

func newReader(src []byte) *reader {
	return &reader{src: src, ok: true}
}

func (r *reader) take(n int) []byte {
	if !r.ok || n < 0 || r.off+n > len(r.src) {
		r.ok = false
		return nil
	}
	b := r.src[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 {
	return int64(r.u64())
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) time() time.Time {
	n := r.i64()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *reader) str() string {
	n := int(r.u16())
	if n > maxStringLen {
		r.ok = false
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *reader) boolean() bool {
	return r.u8() == 1
}
