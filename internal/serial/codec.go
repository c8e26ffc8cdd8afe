package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/ampio/lcc-gateway/internal/can"
	"github.com/ampio/lcc-gateway/internal/logging"
	"github.com/ampio/lcc-gateway/internal/metrics"
)

type Codec struct{}

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// recordLen is the fixed size of a Zhou-Ligong USBCAN dongle wire record:
// lead byte, is_extended, is_remote, dlc, 4-byte big-endian ID (top nibble
// masked to 5 bits), up to 8 payload bytes, zero-padded to this width.
const recordLen = 16

const leadByte = 0xAA

// Encode builds the fixed 16-byte dongle record for f. LCC frames are
// always 29-bit extended, so is_extended is always set.
func (Codec) Encode(f can.Frame) []byte {
	id := f.CANID & can.CAN_EFF_MASK
	buf := make([]byte, recordLen)
	buf[0] = leadByte
	buf[1] = 1 // is_extended
	if f.CANID&can.CAN_RTR_FLAG != 0 {
		buf[2] = 1 // is_remote
	}
	buf[3] = f.Len
	buf[4] = byte(id>>24) & 0x1F
	buf[5] = byte(id >> 16)
	buf[6] = byte(id >> 8)
	buf[7] = byte(id)
	copy(buf[8:8+f.Len], f.Data[:f.Len])
	return buf
}

// DecodeStream reads complete 16-byte dongle records from in and emits
// decoded frames via out. It returns nil if no error occurred.
//
// A lead byte other than 0xAA means sync was lost: the driver's Python
// counterpart logs "lost sync?" and drops the byte; this implementation
// does the same, counting it as a malformed frame, and resumes scanning
// from the next byte. A short read (fewer than 16 bytes available) simply
// waits for more data to arrive; the caller is expected to retry shortly,
// mirroring the original driver's one-shot 50ms grace read.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		_ = CompactBuffer(in)
		if len(data) == 0 {
			return nil
		}
		if data[0] != leadByte {
			logging.L().Debug("serial_sync_lost", "byte", data[0])
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		if len(data) < recordLen {
			return nil // wait for the rest of the record
		}

		dlc := int(data[3])
		if dlc > 8 {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		var fr can.Frame
		id := binary.BigEndian.Uint32(data[4:8]) & can.CAN_EFF_MASK
		fr.CANID = id
		if data[1] != 0 {
			fr.CANID |= can.CAN_EFF_FLAG
		}
		if data[2] != 0 {
			fr.CANID |= can.CAN_RTR_FLAG
		}
		fr.Len = uint8(dlc)
		copy(fr.Data[:dlc], data[8:8+dlc])

		out(fr)
		metrics.IncSerialRx()
		in.Next(recordLen)
	}
}
