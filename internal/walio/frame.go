package walio

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/atlaskv/atlaskv/internal/errs"
)

// OpTag identifies the kind of operation a WAL entry records.
type OpTag uint8

const (
	OpPut    OpTag = 0
	OpDelete OpTag = 1
)

// headerSize is the fixed size of the frame envelope: LSN(8) + CRC32(4) + Len(4).
const headerSize = 16

// Entry is the logical content of one WAL record, spec section 3's
// "WAL Entry" made concrete.
type Entry struct {
	LSN   uint64
	Op    OpTag
	Key   []byte
	Value []byte // nil for OpDelete
}

// encodePayload serializes the op, per the bit-exact layout in spec
// section 4.1: tag:u8, key_len:u32, key, and for Put additionally
// val_len:u32, val.
func encodePayload(op OpTag, key, value []byte) []byte {
	size := 1 + 4 + len(key)
	if op == OpPut {
		size += 4 + len(value)
	}
	buf := make([]byte, size)
	buf[0] = byte(op)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(key)))
	copy(buf[5:5+len(key)], key)
	if op == OpPut {
		off := 5 + len(key)
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(value)))
		copy(buf[off+4:], value)
	}
	return buf
}

// encodeFrame produces the full on-disk frame for entry: LSN | CRC32 | Len | Payload.
func encodeFrame(lsn uint64, payload []byte) []byte {
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint64(frame[0:8], lsn)
	binary.LittleEndian.PutUint32(frame[12:16], uint32(len(payload)))
	sum := crc32.NewIEEE()
	sum.Write(frame[0:8])
	sum.Write(frame[12:16])
	sum.Write(payload)
	binary.LittleEndian.PutUint32(frame[8:12], sum.Sum32())
	copy(frame[headerSize:], payload)
	return frame
}

// decodePayload parses a payload buffer back into an op/key/value triple.
func decodePayload(payload []byte) (OpTag, []byte, []byte, error) {
	if len(payload) < 5 {
		return 0, nil, nil, errs.Wrap("walio.decodePayload", errs.KindCorruption, errs.ErrCorruption)
	}
	op := OpTag(payload[0])
	if op != OpPut && op != OpDelete {
		return 0, nil, nil, errs.Wrap("walio.decodePayload", errs.KindCorruption, errs.ErrCorruption)
	}
	klen := binary.LittleEndian.Uint32(payload[1:5])
	if uint32(len(payload)-5) < klen {
		return 0, nil, nil, errs.Wrap("walio.decodePayload", errs.KindCorruption, errs.ErrCorruption)
	}
	key := payload[5 : 5+klen]
	if op == OpDelete {
		return op, key, nil, nil
	}
	off := 5 + klen
	if uint32(len(payload))-off < 4 {
		return 0, nil, nil, errs.Wrap("walio.decodePayload", errs.KindCorruption, errs.ErrCorruption)
	}
	vlen := binary.LittleEndian.Uint32(payload[off : off+4])
	if uint32(len(payload))-off-4 < vlen {
		return 0, nil, nil, errs.Wrap("walio.decodePayload", errs.KindCorruption, errs.ErrCorruption)
	}
	value := payload[off+4 : off+4+vlen]
	return op, key, value, nil
}
