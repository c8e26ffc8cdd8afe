package lcc

import (
	"bytes"
	"encoding/binary"
)

// MemConfigOp discriminates the memory-configuration sub-protocol
// commands (spec.md 4.A "Memory-configuration sub-codec").
type MemConfigOp string

const (
	MemConfigOpRead                 MemConfigOp = "Read"
	MemConfigOpReadReply            MemConfigOp = "ReadReply"
	MemConfigOpReadReplyFailure     MemConfigOp = "ReadReplyFailure"
	MemConfigOpWrite                MemConfigOp = "Write"
	MemConfigOpWriteReply           MemConfigOp = "WriteReply"
	MemConfigOpWriteReplyFailure    MemConfigOp = "WriteReplyFailure"
	MemConfigOpGetOptions           MemConfigOp = "GetMemoryConfigurationOptions"
	MemConfigOpGetOptionsReply      MemConfigOp = "GetMemoryConfigurationOptionsReply"
	MemConfigOpGetAddrSpaceInfo     MemConfigOp = "GetMemoryConfigurationAddressSpaceInfo"
	MemConfigOpGetAddrSpaceInfoRepl MemConfigOp = "GetMemoryConfigurationAddressSpaceInfoReply"
	MemConfigOpUnknown              MemConfigOp = "Unknown"
)

// MemConfigProtocolType is the datagram protocol_type byte selecting the
// memory-configuration sub-protocol.
const MemConfigProtocolType = 0x20

// Implicit address spaces selected by the low two bits of a read/write
// command when those bits are not 00 (explicit space byte).
const (
	SpaceCDI              uint8 = 0xFF
	SpaceAllMemory        uint8 = 0xFE
	SpaceConfigMemory     uint8 = 0xFD
	SpaceManufacturerInfo uint8 = 0xFC
)

// MemConfigPayload is the parsed body of a memory-configuration datagram.
// Exactly one of the typed fields is populated, selected by Op.
type MemConfigPayload struct {
	Op MemConfigOp

	Read             *MemConfigReadRequest
	ReadReply        *MemConfigReadReply
	ReadReplyFailure *MemConfigFailure

	Write             *MemConfigWriteRequest
	WriteReply        *MemConfigWriteReply
	WriteReplyFailure *MemConfigFailure

	OptionsReply *MemConfigOptionsReply

	AddrSpaceInfoRequest *MemConfigAddrSpaceInfoRequest
	AddrSpaceInfoReply   *MemConfigAddrSpaceInfoReply
}

type MemConfigReadRequest struct {
	Space   uint8
	Address uint32
	Count   uint8
}

type MemConfigReadReply struct {
	Space   uint8
	Address uint32
	Data    []byte
}

type MemConfigFailure struct {
	Space     uint8
	Address   uint32
	ErrorCode uint16
}

type MemConfigWriteRequest struct {
	Space   uint8
	Address uint32
	Data    []byte
}

type MemConfigWriteReply struct {
	Space   uint8
	Address uint32
}

type MemConfigOptionsReply struct {
	WriteLengthBitmap uint8
	HighSpace         uint8
	LowSpace          uint8
	HasLowSpace       bool
	Name              string
}

type MemConfigAddrSpaceInfoRequest struct{ Space uint8 }

type MemConfigAddrSpaceInfoReply struct {
	Space           uint8
	HighestAddress  uint32
	Present         bool
	ReadOnly        bool
	LowestAddress   uint32
	HasLowestAddr   bool
	Description     string
}

func spaceFromLowBits(low uint8) (space uint8, explicit bool) {
	switch low {
	case 0:
		return 0, true
	case 1:
		return SpaceConfigMemory, false
	case 2:
		return SpaceAllMemory, false
	case 3:
		return SpaceCDI, false
	}
	return 0, true
}

func lowBitsFromSpace(space uint8, preferExplicit bool) uint8 {
	if !preferExplicit {
		switch space {
		case SpaceConfigMemory:
			return 1
		case SpaceAllMemory:
			return 2
		case SpaceCDI:
			return 3
		}
	}
	return 0
}

// ParseMemConfig decodes a memory-configuration datagram body (the bytes
// after the 0x20 protocol-type byte).
func ParseMemConfig(body []byte) *MemConfigPayload {
	if len(body) == 0 {
		return nil
	}
	cmd := body[0]
	rest := body[1:]

	switch {
	case cmd&0xFC == 0x40: // 0x40..0x43 Read
		low := cmd & 0x03
		space, explicit := spaceFromLowBits(low)
		var addr uint32
		if len(rest) < 4 {
			return nil
		}
		addr = binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if explicit {
			if len(rest) < 1 {
				return nil
			}
			space = rest[0]
			rest = rest[1:]
		}
		var count uint8
		if len(rest) > 0 {
			count = rest[0]
		}
		return &MemConfigPayload{Op: MemConfigOpRead, Read: &MemConfigReadRequest{Space: space, Address: addr, Count: count}}

	case cmd&0xFC == 0x50: // 0x50..0x53 Read reply
		low := cmd & 0x03
		space, explicit := spaceFromLowBits(low)
		if len(rest) < 4 {
			return nil
		}
		addr := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if explicit {
			if len(rest) < 1 {
				return nil
			}
			space = rest[0]
			rest = rest[1:]
		}
		return &MemConfigPayload{Op: MemConfigOpReadReply, ReadReply: &MemConfigReadReply{Space: space, Address: addr, Data: append([]byte(nil), rest...)}}

	case cmd&0xFC == 0x58: // 0x58..0x5B Read reply failure
		low := cmd & 0x03
		space, explicit := spaceFromLowBits(low)
		if len(rest) < 4 {
			return nil
		}
		addr := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if explicit {
			if len(rest) < 1 {
				return nil
			}
			space = rest[0]
			rest = rest[1:]
		}
		if len(rest) < 2 {
			return nil
		}
		code := binary.BigEndian.Uint16(rest[:2])
		return &MemConfigPayload{Op: MemConfigOpReadReplyFailure, ReadReplyFailure: &MemConfigFailure{Space: space, Address: addr, ErrorCode: code}}

	case cmd&0xFC == 0x00: // 0x00..0x03 Write
		low := cmd & 0x03
		space, explicit := spaceFromLowBits(low)
		if len(rest) < 4 {
			return nil
		}
		addr := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if explicit {
			if len(rest) < 1 {
				return nil
			}
			space = rest[0]
			rest = rest[1:]
		}
		return &MemConfigPayload{Op: MemConfigOpWrite, Write: &MemConfigWriteRequest{Space: space, Address: addr, Data: append([]byte(nil), rest...)}}

	case cmd&0xFC == 0x10: // 0x10..0x13 Write reply
		low := cmd & 0x03
		space, explicit := spaceFromLowBits(low)
		if len(rest) < 4 {
			return nil
		}
		addr := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if explicit {
			if len(rest) < 1 {
				return nil
			}
			space = rest[0]
		}
		return &MemConfigPayload{Op: MemConfigOpWriteReply, WriteReply: &MemConfigWriteReply{Space: space, Address: addr}}

	case cmd&0xFC == 0x18: // 0x18..0x1B Write reply failure
		low := cmd & 0x03
		space, explicit := spaceFromLowBits(low)
		if len(rest) < 4 {
			return nil
		}
		addr := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if explicit {
			if len(rest) < 1 {
				return nil
			}
			space = rest[0]
			rest = rest[1:]
		}
		if len(rest) < 2 {
			return nil
		}
		code := binary.BigEndian.Uint16(rest[:2])
		return &MemConfigPayload{Op: MemConfigOpWriteReplyFailure, WriteReplyFailure: &MemConfigFailure{Space: space, Address: addr, ErrorCode: code}}

	case cmd == 0x80:
		return &MemConfigPayload{Op: MemConfigOpGetOptions}

	case cmd == 0x82:
		if len(rest) < 3 {
			return nil
		}
		reply := &MemConfigOptionsReply{
			WriteLengthBitmap: rest[0],
			HighSpace:         rest[2],
		}
		tail := rest[3:]
		if len(tail) >= 1 {
			reply.LowSpace = tail[0]
			reply.HasLowSpace = true
			tail = tail[1:]
		}
		if i := bytes.IndexByte(tail, 0); i >= 0 {
			reply.Name = string(tail[:i])
		} else {
			reply.Name = string(tail)
		}
		return &MemConfigPayload{Op: MemConfigOpGetOptionsReply, OptionsReply: reply}

	case cmd == 0x84:
		if len(rest) < 1 {
			return nil
		}
		return &MemConfigPayload{Op: MemConfigOpGetAddrSpaceInfo, AddrSpaceInfoRequest: &MemConfigAddrSpaceInfoRequest{Space: rest[0]}}

	case cmd == 0x86 || cmd == 0x87: // low bit of command = "present"
		present := cmd&0x01 != 0
		if len(rest) < 1 {
			return nil
		}
		space := rest[0]
		rest = rest[1:]
		if len(rest) < 4 {
			return nil
		}
		high := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if len(rest) < 1 {
			return nil
		}
		flags := rest[0]
		rest = rest[1:]
		reply := &MemConfigAddrSpaceInfoReply{
			Space:          space,
			HighestAddress: high,
			Present:        present,
			ReadOnly:       flags&0x01 != 0,
		}
		if flags&0x02 != 0 {
			if len(rest) < 4 {
				return nil
			}
			reply.LowestAddress = binary.BigEndian.Uint32(rest[:4])
			reply.HasLowestAddr = true
			rest = rest[4:]
		}
		if i := bytes.IndexByte(rest, 0); i >= 0 {
			reply.Description = string(rest[:i])
		} else {
			reply.Description = string(rest)
		}
		return &MemConfigPayload{Op: MemConfigOpGetAddrSpaceInfoRepl, AddrSpaceInfoReply: reply}
	}

	return &MemConfigPayload{Op: MemConfigOpUnknown}
}

// BuildMemConfigRead builds the command+body bytes (without the leading
// 0x20 protocol-type byte) for a read request.
func BuildMemConfigRead(space uint8, address uint32, count uint8) []byte {
	low := lowBitsFromSpace(space, space < SpaceConfigMemory)
	cmd := 0x40 | low
	var buf bytes.Buffer
	buf.WriteByte(cmd)
	var addr [4]byte
	binary.BigEndian.PutUint32(addr[:], address)
	buf.Write(addr[:])
	if low == 0 {
		buf.WriteByte(space)
	}
	buf.WriteByte(count)
	return buf.Bytes()
}

// BuildMemConfigWrite builds the command+body bytes for a write request.
func BuildMemConfigWrite(space uint8, address uint32, data []byte) []byte {
	low := lowBitsFromSpace(space, space < SpaceConfigMemory)
	cmd := byte(low)
	var buf bytes.Buffer
	buf.WriteByte(cmd)
	var addr [4]byte
	binary.BigEndian.PutUint32(addr[:], address)
	buf.Write(addr[:])
	if low == 0 {
		buf.WriteByte(space)
	}
	buf.Write(data)
	return buf.Bytes()
}

// BuildMemConfigGetOptions builds the options-request body.
func BuildMemConfigGetOptions() []byte { return []byte{0x80} }

// BuildMemConfigGetAddrSpaceInfo builds the address-space-info request body.
func BuildMemConfigGetAddrSpaceInfo(space uint8) []byte { return []byte{0x84, space} }

// ReplyCommandFor computes the memory-configuration reply command byte (and
// comparison mask) this request expects, per spec.md 4.E
// "memory_config_response_filter".
func ReplyCommandFor(requestCmd uint8) (want uint8, mask uint8) {
	switch {
	case requestCmd&0xFC == 0x40, requestCmd&0xFC == 0x00:
		return requestCmd + 0x10, 0xF0
	case requestCmd == 0x80:
		return 0x82, 0xFF
	case requestCmd == 0x84:
		return 0x86, 0xFE
	default:
		return requestCmd, 0xFF
	}
}
