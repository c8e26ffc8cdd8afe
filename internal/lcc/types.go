// Package lcc implements the OpenLCB/LCC-over-CAN protocol engine: frame
// codec, node-alias handshake, multi-frame reassembly, and the high-level
// request/response API built on top of them.
package lcc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// NodeID is a 48-bit OpenLCB Node ID, stored in wire order.
type NodeID [6]byte

// String renders a Node ID as six dot-separated hex bytes, e.g. "02.01.0D.00.00.00".
func (n NodeID) String() string {
	parts := make([]string, 6)
	for i, b := range n {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ".")
}

// ParseNodeID accepts either dot-separated hex bytes ("02.01.0D.00.00.01")
// or a bare 12-digit hex string ("02010D000001") and returns the Node ID.
func ParseNodeID(s string) (NodeID, error) {
	var n NodeID
	s = strings.ReplaceAll(s, ".", "")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return n, fmt.Errorf("lcc: invalid node id %q: %w", s, err)
	}
	if len(raw) != 6 {
		return n, fmt.Errorf("lcc: node id %q must decode to 6 bytes, got %d", s, len(raw))
	}
	copy(n[:], raw)
	return n, nil
}

// Uint64 packs the Node ID into the low 48 bits of a uint64, matching the
// "0x020_10D000000" form used in the spec's worked examples.
func (n NodeID) Uint64() uint64 {
	var v uint64
	for _, b := range n {
		v = v<<8 | uint64(b)
	}
	return v
}

// Alias is a 12-bit dynamic node alias.
type Alias uint16

const AliasMask Alias = 0x0FFF

func (a Alias) String() string { return fmt.Sprintf("%03X", uint16(a)&uint16(AliasMask)) }

// EventID is a 64-bit OpenLCB event identifier.
type EventID uint64

func (e EventID) String() string {
	b := [8]byte{byte(e >> 56), byte(e >> 48), byte(e >> 40), byte(e >> 32), byte(e >> 24), byte(e >> 16), byte(e >> 8), byte(e)}
	parts := make([]string, 8)
	for i, x := range b {
		parts[i] = fmt.Sprintf("%02X", x)
	}
	return strings.Join(parts, ".")
}

// MultipartFlag discriminates single vs. multi-frame addressed/datagram
// traffic. The numbering is internal: the addressed-MTI header encodes the
// flag in the high nibble of the first payload byte with its own values
// (see mtiAddressedFlagToMultipart), and datagrams carry it in frame_type.
type MultipartFlag uint8

const (
	MultipartOnly MultipartFlag = iota
	MultipartFirst
	MultipartMiddle
	MultipartLast
)

func (m MultipartFlag) String() string {
	switch m {
	case MultipartOnly:
		return "only"
	case MultipartFirst:
		return "first"
	case MultipartMiddle:
		return "middle"
	case MultipartLast:
		return "last"
	default:
		return "unknown"
	}
}

// Kind tags the variant carried by a parsed Frame's Payload. Using a string
// tag (rather than nested inner.inner.inner chains, as the original source
// does) keeps the discriminated union flat: one tag, one concrete payload
// struct per tag.
type Kind string

const (
	KindCanControlCheckID         Kind = "CanControlCheckIDFrame"
	KindReserveID                 Kind = "ReserveID"
	KindAliasMapDefinition        Kind = "AliasMapDefinitionFrame"
	KindAliasMapEnquiry           Kind = "AliasMapEnquiryFrame"
	KindAliasMapReset             Kind = "AliasMapResetFrame"
	KindErrorInformationReport    Kind = "ErrorInformationReport"
	KindInitializationComplete    Kind = "InitializationComplete"
	KindInitializationCompleteS   Kind = "InitializationCompleteSimple"
	KindVerifyNodeIdAddressed     Kind = "VerifyNodeIdAddressed"
	KindVerifyNodeIdGlobal        Kind = "VerifyNodeIdGlobal"
	KindVerifiedNodeId            Kind = "VerifiedNodeId"
	KindOptionalInteractionReject Kind = "OptionalInteractionRejected"
	KindTerminateDueToError       Kind = "TerminateDueToError"
	KindProtocolSupportInquiry    Kind = "ProtocolSupportInquiry"
	KindProtocolSupportReply      Kind = "ProtocolSupportReply"
	KindProducerConsumerReport    Kind = "ProducerConsumerReport"
	KindIdentifyConsumer          Kind = "IdentifyConsumer"
	KindConsumerIdentified        Kind = "ConsumerIdentified"
	KindConsumerRangeIdentified   Kind = "ConsumerRangeIdentified"
	KindIdentifyProducer          Kind = "IdentifyProducer"
	KindProducerIdentified        Kind = "ProducerIdentified"
	KindProducerRangeIdentified   Kind = "ProducerRangeIdentified"
	KindIdentifyEvents            Kind = "IdentifyEvents"
	KindLearnEvent                Kind = "LearnEvent"
	KindSimpleNodeIdentInfoReq    Kind = "SimpleNodeIdentInfoRequest"
	KindSimpleNodeIdentInfoReply  Kind = "SimpleNodeIdentInfoReply"
	KindDatagramReceivedOk        Kind = "DatagramReceivedOk"
	KindDatagramRejected          Kind = "DatagramRejected"
	KindDatagram                  Kind = "Datagram"
	KindStream                    Kind = "Stream"
	KindUnknownMtiMessage         Kind = "UnknownMtiMessage"
	KindInvalidFrame              Kind = "InvalidFrame"

	// (added) recognized-by-name-only kinds, per spec.md's explicit
	// "streams, traction control, firmware upgrade are recognized by
	// name only" and original_source/message_format.py's fuller MTI
	// switch. Their payload is carried opaque.
	KindTractionControlCommand Kind = "TractionControlCommand"
	KindTractionControlReply   Kind = "TractionControlReply"
	KindXpressNet              Kind = "XpressNet"
	KindRemoteButtonRequest    Kind = "RemoteButtonRequest"
	KindSimpleTrainNodeIdent   Kind = "SimpleTrainNodeIdentInfo"
	KindStreamInitRequest      Kind = "StreamInitRequest"
	KindStreamInitReply        Kind = "StreamInitReply"
	KindStreamSend             Kind = "StreamSend"
	KindStreamProceed          Kind = "StreamProceed"
	KindStreamComplete         Kind = "StreamComplete"
)

// EventStatus is the validity indicator carried by ConsumerIdentified /
// ProducerIdentified frames (the low two bits of their MTI).
type EventStatus uint8

const (
	EventValid EventStatus = iota
	EventInvalid
	EventUnknown
)

// Payload is the marker interface implemented by every concrete payload
// struct. A Frame's Payload field always holds exactly one of these,
// selected by Frame.Kind -- never a positional nesting chain.
type Payload interface{ isPayload() }

// Frame is the top-level parsed LCC frame: a Kind tag, addressing fields
// common to many variants, and a typed Payload.
type Frame struct {
	Kind        Kind
	SourceAlias Alias
	DestAlias   Alias
	HasDest     bool
	Multipart   MultipartFlag
	Complete    bool // true unless this is a first/middle fragment awaiting reassembly
	Payload     Payload
}

func (f Frame) isAddressed() bool { return f.HasDest }

// --- CAN-control payloads ---

type CheckIDPayload struct {
	SequenceNumber uint8 // 7,6,5,4
	NibblePair     uint16
}

func (CheckIDPayload) isPayload() {}

type ReserveIDPayload struct{}

func (ReserveIDPayload) isPayload() {}

type AliasMapDefinitionPayload struct{ NodeID NodeID }

func (AliasMapDefinitionPayload) isPayload() {}

type AliasMapEnquiryPayload struct {
	NodeID    NodeID
	HasNodeID bool
}

func (AliasMapEnquiryPayload) isPayload() {}

type AliasMapResetPayload struct{ NodeID NodeID }

func (AliasMapResetPayload) isPayload() {}

type ErrorInformationReportPayload struct{ Code uint8 }

func (ErrorInformationReportPayload) isPayload() {}

// --- MTI payloads ---

type InitializationCompletePayload struct {
	NodeID    NodeID
	SimpleSet bool
}

func (InitializationCompletePayload) isPayload() {}

type VerifyNodeIdPayload struct {
	NodeID    NodeID
	HasNodeID bool
}

func (VerifyNodeIdPayload) isPayload() {}

type VerifiedNodeIdPayload struct {
	NodeID    NodeID
	SimpleSet bool
}

func (VerifiedNodeIdPayload) isPayload() {}

type OptionalInteractionRejectedPayload struct{ ErrorCode uint16 }

func (OptionalInteractionRejectedPayload) isPayload() {}

type TerminateDueToErrorPayload struct{ ErrorCode uint16 }

func (TerminateDueToErrorPayload) isPayload() {}

type ProtocolSupportInquiryPayload struct{}

func (ProtocolSupportInquiryPayload) isPayload() {}

type ProtocolSupportReplyPayload struct{ Support ProtocolSupport }

func (ProtocolSupportReplyPayload) isPayload() {}

type ProducerConsumerReportPayload struct{ EventID EventID }

func (ProducerConsumerReportPayload) isPayload() {}

type IdentifyConsumerPayload struct{ EventID EventID }

func (IdentifyConsumerPayload) isPayload() {}

type ConsumerIdentifiedPayload struct {
	EventID EventID
	Status  EventStatus
}

func (ConsumerIdentifiedPayload) isPayload() {}

type ConsumerRangeIdentifiedPayload struct{ EventID EventID }

func (ConsumerRangeIdentifiedPayload) isPayload() {}

type IdentifyProducerPayload struct{ EventID EventID }

func (IdentifyProducerPayload) isPayload() {}

type ProducerIdentifiedPayload struct {
	EventID EventID
	Status  EventStatus
}

func (ProducerIdentifiedPayload) isPayload() {}

type ProducerRangeIdentifiedPayload struct{ EventID EventID }

func (ProducerRangeIdentifiedPayload) isPayload() {}

type IdentifyEventsPayload struct{}

func (IdentifyEventsPayload) isPayload() {}

type LearnEventPayload struct{ EventID EventID }

func (LearnEventPayload) isPayload() {}

type SimpleNodeIdentInfoRequestPayload struct{}

func (SimpleNodeIdentInfoRequestPayload) isPayload() {}

type SimpleNodeIdentInfoReplyPayload struct{ Info SimpleNodeInformation }

func (SimpleNodeIdentInfoReplyPayload) isPayload() {}

type DatagramReceivedOkPayload struct{}

func (DatagramReceivedOkPayload) isPayload() {}

type DatagramRejectedPayload struct{ ErrorCode uint16 }

func (DatagramRejectedPayload) isPayload() {}

// DatagramPayload carries the datagram's protocol-type byte and body.
// MemConfig is non-nil when ProtocolType == MemConfigProtocolType and the
// body parsed as a recognized memory-configuration command.
type DatagramPayload struct {
	ProtocolType uint8
	Body         []byte
	MemConfig    *MemConfigPayload
}

func (DatagramPayload) isPayload() {}

type StreamPayload struct{ Raw []byte }

func (StreamPayload) isPayload() {}

type UnknownMtiMessagePayload struct {
	MTI uint16
	Raw []byte
}

func (UnknownMtiMessagePayload) isPayload() {}

type InvalidFramePayload struct{ Raw []byte }

func (InvalidFramePayload) isPayload() {}

// OpaquePayload carries the raw bytes of a frame that is recognized by
// name only (traction control, streams, XpressNet, ...) per spec.md's
// explicit non-goal.
type OpaquePayload struct{ Raw []byte }

func (OpaquePayload) isPayload() {}

// --- typed accessors (payload_of(frame), spec.md 9) ---

func (f Frame) ProducerConsumerReport() (ProducerConsumerReportPayload, bool) {
	p, ok := f.Payload.(ProducerConsumerReportPayload)
	return p, ok
}

func (f Frame) AliasMapDefinition() (AliasMapDefinitionPayload, bool) {
	p, ok := f.Payload.(AliasMapDefinitionPayload)
	return p, ok
}

func (f Frame) Datagram() (DatagramPayload, bool) {
	p, ok := f.Payload.(DatagramPayload)
	return p, ok
}

func (f Frame) ProtocolSupportReply() (ProtocolSupportReplyPayload, bool) {
	p, ok := f.Payload.(ProtocolSupportReplyPayload)
	return p, ok
}

func (f Frame) SimpleNodeIdentInfoReply() (SimpleNodeIdentInfoReplyPayload, bool) {
	p, ok := f.Payload.(SimpleNodeIdentInfoReplyPayload)
	return p, ok
}
