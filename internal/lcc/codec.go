package lcc

import (
	"encoding/binary"
	"fmt"

	"github.com/ampio/lcc-gateway/internal/can"
)

// Bit layout of the 29-bit masked arbitration ID. Verified against
// original_source/lcc_browser/lcc/lcc_protocol.py's frame-building
// functions and the worked examples in spec.md section 8 (S1, S2): bit 28
// is a fixed, always-1 marker the original sets on every frame and never
// inspects on receive; the real OpenLCB-message/CAN-control discriminator
// is bit 27.
const (
	bitReserved      = 1 << 28 // always 1 on transmit; ignored on receive
	bitOpenLCB       = 1 << 27 // 1 = OpenLCB message, 0 = CAN-control
	bitCheckIDFrame  = 1 << 26 // CAN-control only
	frameTypeShift   = 24
	frameTypeMask    = 0x7 // 3 bits: frame_type (OpenLCB); CAN-control CID sequence uses only bits 25-24
	variableShift    = 12
	variableMask     = 0xFFF
	aliasMask uint32 = 0xFFF
)

// FrameType values for is_openlcb_message == 1.
const (
	frameTypeMTI          = 1
	frameTypeDatagramOnly = 2
	frameTypeDatagramFst  = 3
	frameTypeDatagramMid  = 4
	frameTypeDatagramLst  = 5
	frameTypeStream       = 7
)

// CAN-control cc_variable_field selectors (is_check_id_frame == 0).
const (
	ccReserveID        = 0x700
	ccAliasMapDef      = 0x701
	ccAliasMapEnquiry  = 0x702
	ccAliasMapReset    = 0x703
	ccErrorInfoReport0 = 0x710
	ccErrorInfoReport3 = 0x713
)

// mtiTable maps a recognized MTI value to its Kind. Whether a message is
// addressed is derived from the MTI itself (bit 3 set), not stored here,
// per spec.md 4.A.
var mtiTable = map[uint16]Kind{
	0x100: KindInitializationComplete,
	0x101: KindInitializationCompleteS,
	0x488: KindVerifyNodeIdAddressed,
	0x490: KindVerifyNodeIdGlobal,
	0x170: KindVerifiedNodeId,
	0x171: KindVerifiedNodeId,
	0x068: KindOptionalInteractionReject,
	0x0A8: KindTerminateDueToError,
	0x828: KindProtocolSupportInquiry,
	0x668: KindProtocolSupportReply,
	0x5B4: KindProducerConsumerReport,
	0x8F4: KindIdentifyConsumer,
	0x4C4: KindConsumerIdentified,
	0x4C5: KindConsumerIdentified,
	0x4C7: KindConsumerIdentified,
	0x4A4: KindConsumerRangeIdentified,
	0x914: KindIdentifyProducer,
	0x544: KindProducerIdentified,
	0x545: KindProducerIdentified,
	0x547: KindProducerIdentified,
	0x524: KindProducerRangeIdentified,
	0x970: KindIdentifyEvents,
	0x968: KindIdentifyEvents,
	0x594: KindLearnEvent,
	0xDE8: KindSimpleNodeIdentInfoReq,
	0xA08: KindSimpleNodeIdentInfoReply,
	0xA28: KindDatagramReceivedOk,
	0xA48: KindDatagramRejected,

	// (added) recognized by name only; see types.go.
	0x5EB: KindTractionControlCommand,
	0x1E9: KindTractionControlReply,
	0x5EA: KindTractionControlCommand,
	0x1E8: KindTractionControlReply,
	0x820: KindXpressNet,
	0x948: KindRemoteButtonRequest,
	0x549: KindRemoteButtonRequest,
	0xDA8: KindSimpleTrainNodeIdent,
	0x9C8: KindSimpleTrainNodeIdent,
	0xCC8: KindStreamInitRequest,
	0x868: KindStreamInitReply,
	0x888: KindStreamSend,
	0x8A8: KindStreamProceed,
}

// kindToMTI is the reverse table for kinds with exactly one MTI value.
// Kinds with multiple wire values selected by a payload field (VerifiedNodeId,
// ConsumerIdentified, ProducerIdentified) are built by buildMTIValue below.
var kindToMTI = map[Kind]uint16{
	KindInitializationComplete:    0x100,
	KindInitializationCompleteS:   0x101,
	KindVerifyNodeIdAddressed:     0x488,
	KindVerifyNodeIdGlobal:        0x490,
	KindOptionalInteractionReject: 0x068,
	KindTerminateDueToError:       0x0A8,
	KindProtocolSupportInquiry:    0x828,
	KindProtocolSupportReply:      0x668,
	KindProducerConsumerReport:    0x5B4,
	KindIdentifyConsumer:          0x8F4,
	KindConsumerRangeIdentified:   0x4A4,
	KindIdentifyProducer:          0x914,
	KindProducerRangeIdentified:   0x524,
	KindIdentifyEvents:            0x970,
	KindLearnEvent:                0x594,
	KindSimpleNodeIdentInfoReq:    0xDE8,
	KindSimpleNodeIdentInfoReply:  0xA08,
	KindDatagramReceivedOk:        0xA28,
	KindDatagramRejected:          0xA48,
}

// isAddressed reports whether an MTI's payload begins with a 2-byte
// multipart-flag/destination-alias header (bit 3 set), per spec.md 4.A.
func isAddressed(mti uint16) bool { return mti&0x8 != 0 }

// Parse decodes a raw CAN frame into a tagged Frame. It never fails the
// whole parse on an unrecognized discriminant: unknown outer shells become
// KindInvalidFrame / KindUnknownMtiMessage carrying the opaque bytes.
func Parse(fr can.Frame) (Frame, error) {
	id := fr.CANID & can.CAN_EFF_MASK
	data := fr.Data[:fr.Len]
	srcAlias := Alias(id & aliasMask)

	if id&bitOpenLCB == 0 {
		return parseCANControl(id, srcAlias, data)
	}
	frameType := (id >> frameTypeShift) & frameTypeMask
	variable := uint16((id >> variableShift) & variableMask)

	switch frameType {
	case frameTypeMTI:
		return parseMTI(variable, srcAlias, data)
	case frameTypeDatagramOnly, frameTypeDatagramFst, frameTypeDatagramMid, frameTypeDatagramLst:
		return parseDatagram(frameType, variable, srcAlias, data)
	case frameTypeStream:
		return Frame{Kind: KindStream, SourceAlias: srcAlias, Complete: true, Payload: StreamPayload{Raw: append([]byte(nil), data...)}}, nil
	default:
		return Frame{Kind: KindInvalidFrame, SourceAlias: srcAlias, Complete: true, Payload: InvalidFramePayload{Raw: append([]byte(nil), data...)}}, nil
	}
}

func parseCANControl(id uint32, srcAlias Alias, data []byte) (Frame, error) {
	f := Frame{SourceAlias: srcAlias, Complete: true}
	if id&bitCheckIDFrame != 0 {
		seq2 := uint8((id >> frameTypeShift) & 0x3)
		nibble := uint16((id >> variableShift) & variableMask)
		f.Kind = KindCanControlCheckID
		f.Payload = CheckIDPayload{SequenceNumber: 4 + seq2, NibblePair: nibble}
		return f, nil
	}
	ccVar := uint16((id >> variableShift) & variableMask)
	switch ccVar {
	case ccReserveID:
		f.Kind = KindReserveID
		f.Payload = ReserveIDPayload{}
	case ccAliasMapDef:
		var nid NodeID
		copy(nid[:], data)
		f.Kind = KindAliasMapDefinition
		f.Payload = AliasMapDefinitionPayload{NodeID: nid}
	case ccAliasMapEnquiry:
		var nid NodeID
		has := len(data) >= 6
		if has {
			copy(nid[:], data)
		}
		f.Kind = KindAliasMapEnquiry
		f.Payload = AliasMapEnquiryPayload{NodeID: nid, HasNodeID: has}
	case ccAliasMapReset:
		var nid NodeID
		copy(nid[:], data)
		f.Kind = KindAliasMapReset
		f.Payload = AliasMapResetPayload{NodeID: nid}
	default:
		if ccVar >= ccErrorInfoReport0 && ccVar <= ccErrorInfoReport3 {
			f.Kind = KindErrorInformationReport
			f.Payload = ErrorInformationReportPayload{Code: uint8(ccVar & 0x3)}
			return f, nil
		}
		f.Kind = KindInvalidFrame
		f.Payload = InvalidFramePayload{Raw: append([]byte(nil), data...)}
		return f, nil
	}
	return f, nil
}

func parseMTI(mti uint16, srcAlias Alias, data []byte) (Frame, error) {
	f := Frame{SourceAlias: srcAlias, Complete: true}

	body := data
	if isAddressed(mti) {
		if len(body) < 2 {
			if _, known := mtiTable[mti]; !known {
				return Frame{Kind: KindUnknownMtiMessage, SourceAlias: srcAlias, Complete: true, Payload: UnknownMtiMessagePayload{MTI: mti, Raw: append([]byte(nil), data...)}}, nil
			}
			return Frame{Kind: KindInvalidFrame, SourceAlias: srcAlias, Complete: true, Payload: InvalidFramePayload{Raw: data}}, nil
		}
		mtiFlag := (body[0] >> 4) & 0xF
		dst := Alias(uint16(body[0]&0xF)<<8 | uint16(body[1]))
		f.DestAlias = dst
		f.HasDest = true
		f.Multipart = mtiAddressedFlagToMultipart(mtiFlag)
		f.Complete = f.Multipart == MultipartOnly || f.Multipart == MultipartLast
		body = body[2:]
	}

	kind, known := mtiTable[mti]
	if !known {
		f.Kind = KindUnknownMtiMessage
		f.Payload = UnknownMtiMessagePayload{MTI: mti, Raw: append([]byte(nil), body...)}
		return f, nil
	}
	f.Kind = kind

	switch kind {
	case KindInitializationComplete, KindInitializationCompleteS:
		var nid NodeID
		copy(nid[:], body)
		f.Payload = InitializationCompletePayload{NodeID: nid, SimpleSet: kind == KindInitializationCompleteS}
	case KindVerifyNodeIdAddressed, KindVerifyNodeIdGlobal:
		var nid NodeID
		has := len(body) >= 6
		if has {
			copy(nid[:], body)
		}
		f.Payload = VerifyNodeIdPayload{NodeID: nid, HasNodeID: has}
	case KindVerifiedNodeId:
		var nid NodeID
		copy(nid[:], body)
		f.Payload = VerifiedNodeIdPayload{NodeID: nid, SimpleSet: mti&1 != 0}
	case KindOptionalInteractionReject:
		f.Payload = OptionalInteractionRejectedPayload{ErrorCode: beU16(body)}
	case KindTerminateDueToError:
		f.Payload = TerminateDueToErrorPayload{ErrorCode: beU16(body)}
	case KindProtocolSupportInquiry:
		f.Payload = ProtocolSupportInquiryPayload{}
	case KindProtocolSupportReply:
		f.Payload = ProtocolSupportReplyPayload{Support: ParseProtocolSupport(body)}
	case KindProducerConsumerReport:
		f.Payload = ProducerConsumerReportPayload{EventID: beEventID(body)}
	case KindIdentifyConsumer:
		f.Payload = IdentifyConsumerPayload{EventID: beEventID(body)}
	case KindConsumerIdentified:
		f.Payload = ConsumerIdentifiedPayload{EventID: beEventID(body), Status: mtiEventStatus(mti, 0x4C4)}
	case KindConsumerRangeIdentified:
		f.Payload = ConsumerRangeIdentifiedPayload{EventID: beEventID(body)}
	case KindIdentifyProducer:
		f.Payload = IdentifyProducerPayload{EventID: beEventID(body)}
	case KindProducerIdentified:
		f.Payload = ProducerIdentifiedPayload{EventID: beEventID(body), Status: mtiEventStatus(mti, 0x544)}
	case KindProducerRangeIdentified:
		f.Payload = ProducerRangeIdentifiedPayload{EventID: beEventID(body)}
	case KindIdentifyEvents:
		f.Payload = IdentifyEventsPayload{}
	case KindLearnEvent:
		f.Payload = LearnEventPayload{EventID: beEventID(body)}
	case KindSimpleNodeIdentInfoReq:
		f.Payload = SimpleNodeIdentInfoRequestPayload{}
	case KindSimpleNodeIdentInfoReply:
		if f.Complete {
			f.Payload = SimpleNodeIdentInfoReplyPayload{Info: ParseSimpleNodeInformation(body)}
		} else {
			f.Payload = OpaquePayload{Raw: append([]byte(nil), body...)}
		}
	case KindDatagramReceivedOk:
		f.Payload = DatagramReceivedOkPayload{}
	case KindDatagramRejected:
		f.Payload = DatagramRejectedPayload{ErrorCode: beU16(body)}
	default:
		f.Payload = OpaquePayload{Raw: append([]byte(nil), body...)}
	}
	return f, nil
}

func mtiAddressedFlagToMultipart(flag uint8) MultipartFlag {
	// Inline addressed-MTI header encodes only_frame=0, first_frame=1,
	// last_frame=2, middle_frame=3 (message_format.py), a different
	// numbering than the datagram frame_type scheme.
	switch flag {
	case 0:
		return MultipartOnly
	case 1:
		return MultipartFirst
	case 2:
		return MultipartLast
	case 3:
		return MultipartMiddle
	default:
		return MultipartOnly
	}
}

func multipartToMTIAddressedFlag(m MultipartFlag) uint8 {
	switch m {
	case MultipartOnly:
		return 0
	case MultipartFirst:
		return 1
	case MultipartLast:
		return 2
	case MultipartMiddle:
		return 3
	default:
		return 0
	}
}

func mtiEventStatus(mti uint16, validBase uint16) EventStatus {
	switch mti - validBase {
	case 0:
		return EventValid
	case 1:
		return EventInvalid
	case 3:
		return EventUnknown
	default:
		return EventUnknown
	}
}

func beU16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b[:2])
}

func beEventID(b []byte) EventID {
	if len(b) < 8 {
		var tmp [8]byte
		copy(tmp[:], b)
		return EventID(binary.BigEndian.Uint64(tmp[:]))
	}
	return EventID(binary.BigEndian.Uint64(b[:8]))
}

func parseDatagram(frameType uint32, variable uint16, srcAlias Alias, data []byte) (Frame, error) {
	f := Frame{
		Kind:        KindDatagram,
		SourceAlias: srcAlias,
		DestAlias:   Alias(variable),
		HasDest:     true,
	}
	switch frameType {
	case frameTypeDatagramOnly:
		f.Multipart = MultipartOnly
		f.Complete = true
	case frameTypeDatagramFst:
		f.Multipart = MultipartFirst
	case frameTypeDatagramMid:
		f.Multipart = MultipartMiddle
	case frameTypeDatagramLst:
		f.Multipart = MultipartLast
		f.Complete = true
	}
	if f.Complete {
		f.Payload = buildDatagramPayload(data)
	} else {
		f.Payload = OpaquePayload{Raw: append([]byte(nil), data...)}
	}
	return f, nil
}

func buildDatagramPayload(body []byte) DatagramPayload {
	dp := DatagramPayload{}
	if len(body) == 0 {
		return dp
	}
	dp.ProtocolType = body[0]
	dp.Body = append([]byte(nil), body[1:]...)
	if dp.ProtocolType == MemConfigProtocolType {
		dp.MemConfig = ParseMemConfig(dp.Body)
	}
	return dp
}

// Build encodes a Frame the engine wants to transmit back into wire bytes.
// our is the sending node's current alias, placed in the low 12 bits of
// every emitted frame (spec.md 8, "alias-bit discipline").
func Build(f Frame, our Alias) (can.Frame, error) {
	switch f.Kind {
	case KindReserveID:
		return buildCC(ccReserveID, our, nil), nil
	case KindAliasMapEnquiry:
		p, _ := f.Payload.(AliasMapEnquiryPayload)
		var body []byte
		if p.HasNodeID {
			body = p.NodeID[:]
		}
		return buildCC(ccAliasMapEnquiry, our, body), nil
	case KindAliasMapDefinition:
		p, _ := f.Payload.(AliasMapDefinitionPayload)
		return buildCC(ccAliasMapDef, our, p.NodeID[:]), nil
	case KindAliasMapReset:
		p, _ := f.Payload.(AliasMapResetPayload)
		return buildCC(ccAliasMapReset, our, p.NodeID[:]), nil
	}

	mti, body, err := buildMTIValue(f)
	if err != nil {
		return can.Frame{}, err
	}

	if isAddressed(mti) {
		header := []byte{(multipartToMTIAddressedFlag(f.Multipart) << 4) | byte(f.DestAlias>>8), byte(f.DestAlias)}
		body = append(header, body...)
	}
	id := bitReserved | bitOpenLCB | (uint32(frameTypeMTI) << frameTypeShift) | (uint32(mti) << variableShift) | uint32(our&Alias(aliasMask))
	if len(body) > 8 {
		return can.Frame{}, fmt.Errorf("%w: mti %#x body %d bytes exceeds 8", ErrInvalidArgument, mti, len(body))
	}
	var fr can.Frame
	fr.CANID = id | can.CAN_EFF_FLAG
	fr.Len = uint8(len(body))
	copy(fr.Data[:], body)
	return fr, nil
}

// BuildDatagramFrame builds one raw datagram frame carrying one chunk
// (<=8 bytes) of a (possibly multi-frame) datagram payload. Used directly
// by the datagram sender in requests.go, which chunks the payload itself
// rather than routing through Build/Frame.
func BuildDatagramFrame(m MultipartFlag, dst, our Alias, chunk []byte) can.Frame {
	var frameType uint32
	switch m {
	case MultipartOnly:
		frameType = frameTypeDatagramOnly
	case MultipartFirst:
		frameType = frameTypeDatagramFst
	case MultipartMiddle:
		frameType = frameTypeDatagramMid
	case MultipartLast:
		frameType = frameTypeDatagramLst
	}
	id := bitReserved | bitOpenLCB | (frameType << frameTypeShift) | (uint32(dst&Alias(aliasMask)) << variableShift) | uint32(our&Alias(aliasMask))
	var fr can.Frame
	fr.CANID = id | can.CAN_EFF_FLAG
	fr.Len = uint8(len(chunk))
	copy(fr.Data[:], chunk)
	return fr
}

func buildCC(ccVariableField uint16, our Alias, body []byte) can.Frame {
	id := bitReserved | (uint32(ccVariableField) << variableShift) | uint32(our&Alias(aliasMask))
	var fr can.Frame
	fr.CANID = id | can.CAN_EFF_FLAG
	fr.Len = uint8(len(body))
	copy(fr.Data[:], body)
	return fr
}

// BuildCheckID builds one of the four CID frames used during alias
// reservation. seq is the OpenLCB sequence number (4..7, high first).
func BuildCheckID(seq uint8, nibblePair uint16, candidate Alias) can.Frame {
	id := uint32(bitReserved) | uint32(bitCheckIDFrame) | (uint32(seq-4) << frameTypeShift) | (uint32(nibblePair&0xFFF) << variableShift) | uint32(candidate&Alias(aliasMask))
	var fr can.Frame
	fr.CANID = id | can.CAN_EFF_FLAG
	return fr
}

func buildMTIValue(f Frame) (uint16, []byte, error) {
	switch f.Kind {
	case KindInitializationComplete:
		p, _ := f.Payload.(InitializationCompletePayload)
		return 0x100, p.NodeID[:], nil
	case KindInitializationCompleteS:
		p, _ := f.Payload.(InitializationCompletePayload)
		return 0x101, p.NodeID[:], nil
	case KindVerifiedNodeId:
		p, _ := f.Payload.(VerifiedNodeIdPayload)
		if p.SimpleSet {
			return 0x171, p.NodeID[:], nil
		}
		return 0x170, p.NodeID[:], nil
	case KindConsumerIdentified:
		p, _ := f.Payload.(ConsumerIdentifiedPayload)
		return 0x4C4 + statusOffset(p.Status), eventBytes(p.EventID), nil
	case KindProducerIdentified:
		p, _ := f.Payload.(ProducerIdentifiedPayload)
		return 0x544 + statusOffset(p.Status), eventBytes(p.EventID), nil
	case KindProducerConsumerReport:
		p, _ := f.Payload.(ProducerConsumerReportPayload)
		return 0x5B4, eventBytes(p.EventID), nil
	case KindIdentifyConsumer:
		p, _ := f.Payload.(IdentifyConsumerPayload)
		return 0x8F4, eventBytes(p.EventID), nil
	case KindIdentifyProducer:
		p, _ := f.Payload.(IdentifyProducerPayload)
		return 0x914, eventBytes(p.EventID), nil
	case KindLearnEvent:
		p, _ := f.Payload.(LearnEventPayload)
		return 0x594, eventBytes(p.EventID), nil
	case KindConsumerRangeIdentified:
		p, _ := f.Payload.(ConsumerRangeIdentifiedPayload)
		return 0x4A4, eventBytes(p.EventID), nil
	case KindProducerRangeIdentified:
		p, _ := f.Payload.(ProducerRangeIdentifiedPayload)
		return 0x524, eventBytes(p.EventID), nil
	case KindProtocolSupportInquiry:
		return 0x828, nil, nil
	case KindProtocolSupportReply:
		p, _ := f.Payload.(ProtocolSupportReplyPayload)
		return 0x668, p.Support.Build(), nil
	case KindSimpleNodeIdentInfoReq:
		return 0xDE8, nil, nil
	case KindSimpleNodeIdentInfoReply:
		p, _ := f.Payload.(SimpleNodeIdentInfoReplyPayload)
		return 0xA08, p.Info.Build(), nil
	case KindDatagramReceivedOk:
		return 0xA28, nil, nil
	case KindDatagramRejected:
		p, _ := f.Payload.(DatagramRejectedPayload)
		var body [2]byte
		binary.BigEndian.PutUint16(body[:], p.ErrorCode)
		return 0xA48, body[:], nil
	case KindOptionalInteractionReject:
		p, _ := f.Payload.(OptionalInteractionRejectedPayload)
		var body [2]byte
		binary.BigEndian.PutUint16(body[:], p.ErrorCode)
		return 0x068, body[:], nil
	case KindTerminateDueToError:
		p, _ := f.Payload.(TerminateDueToErrorPayload)
		var body [2]byte
		binary.BigEndian.PutUint16(body[:], p.ErrorCode)
		return 0x0A8, body[:], nil
	case KindVerifyNodeIdAddressed:
		p, _ := f.Payload.(VerifyNodeIdPayload)
		if p.HasNodeID {
			return 0x488, p.NodeID[:], nil
		}
		return 0x488, nil, nil
	case KindVerifyNodeIdGlobal:
		p, _ := f.Payload.(VerifyNodeIdPayload)
		if p.HasNodeID {
			return 0x490, p.NodeID[:], nil
		}
		return 0x490, nil, nil
	case KindIdentifyEvents:
		return 0x970, nil, nil
	}
	if mti, ok := kindToMTI[f.Kind]; ok {
		return mti, nil, nil
	}
	return 0, nil, fmt.Errorf("%w: cannot build frame kind %q", ErrInvalidArgument, f.Kind)
}

func statusOffset(s EventStatus) uint16 {
	switch s {
	case EventValid:
		return 0
	case EventInvalid:
		return 1
	default:
		return 3
	}
}

func eventBytes(e EventID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(e))
	return b[:]
}
