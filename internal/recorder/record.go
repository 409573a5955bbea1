package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Frame layout, little endian:
//
//	0  magic      [4]byte "NJRN"
//	4  version    u16
//	6  type       u16
//	8  schema     u16
//	10 source     u16
//	12 flags      u16
//	14 reserved   u16
//	16 payloadLen u32
//	20 seq        u64
//	28 tsEvent    i64
//	36 tsRecv     i64
//	44 traceID    u64
//	52 payload    ...
//	   crc32c     u32 over header and payload
const (
	frameVersion     uint16 = 2
	frameHeaderSize         = 52
	frameTrailerSize        = 4
	maxPayloadLen           = 1 << 24
)

var (
	frameMagic = [4]byte{'N', 'J', 'R', 'N'}
	castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrBadMagic        = exception.ErrJournalBadMagic
	ErrFrameVersion    = exception.ErrJournalFrameVersion
	ErrChecksum        = exception.ErrJournalChecksum
	ErrPayloadTooLarge = exception.ErrJournalPayloadTooLong
	ErrTruncated       = exception.ErrJournalTruncated
)

func frameSize(payloadLen int) int64 {
	return int64(frameHeaderSize + payloadLen + frameTrailerSize)
}

func putFrameHeader(dst []byte, h schema.EventHeader, payloadLen int) {
	_ = dst[frameHeaderSize-1]
	le := binary.LittleEndian
	copy(dst[0:4], frameMagic[:])
	le.PutUint16(dst[4:6], frameVersion)
	le.PutUint16(dst[6:8], uint16(h.Type))
	le.PutUint16(dst[8:10], h.Version)
	le.PutUint16(dst[10:12], h.Source)
	le.PutUint16(dst[12:14], h.Flags)
	le.PutUint16(dst[14:16], 0)
	le.PutUint32(dst[16:20], uint32(payloadLen))
	le.PutUint64(dst[20:28], h.Seq)
	le.PutUint64(dst[28:36], uint64(h.TsEvent))
	le.PutUint64(dst[36:44], uint64(h.TsRecv))
	le.PutUint64(dst[44:52], h.TraceID)
}

func parseFrameHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < frameHeaderSize {
		return schema.EventHeader{}, 0, ErrTruncated
	}
	if !bytes.Equal(src[0:4], frameMagic[:]) {
		return schema.EventHeader{}, 0, ErrBadMagic
	}
	le := binary.LittleEndian
	if v := le.Uint16(src[4:6]); v != frameVersion {
		return schema.EventHeader{}, 0, ErrFrameVersion
	}
	h := schema.EventHeader{
		Type:    schema.EventType(le.Uint16(src[6:8])),
		Version: le.Uint16(src[8:10]),
		Source:  le.Uint16(src[10:12]),
		Flags:   le.Uint16(src[12:14]),
		Seq:     le.Uint64(src[20:28]),
		TsEvent: int64(le.Uint64(src[28:36])),
		TsRecv:  int64(le.Uint64(src[36:44])),
		TraceID: le.Uint64(src[44:52]),
	}
	return h, le.Uint32(src[16:20]), nil
}

func frameChecksum(header, payload []byte) uint32 {
	return crc32.Update(crc32.Update(0, castagnoli, header), castagnoli, payload)
}
