package lcc

import (
	"fmt"
	"strings"
)

// FormatFrame renders a parsed Frame as "type, field=value, ...,
// destination_alias=..., source_alias=..." for the log viewer, matching
// frame_to_human_readable's column order: type first, then the payload's
// own fields, then addressing last.
func FormatFrame(f Frame) string {
	var parts []string
	parts = append(parts, string(f.Kind))
	parts = append(parts, payloadFields(f.Payload)...)
	if f.HasDest {
		parts = append(parts, fmt.Sprintf("destination_alias=%s", f.DestAlias))
	}
	parts = append(parts, fmt.Sprintf("source_alias=%s", f.SourceAlias))
	return strings.Join(parts, ", ")
}

func payloadFields(p Payload) []string {
	switch v := p.(type) {
	case CheckIDPayload:
		return []string{fmt.Sprintf("sequence_number=%d", v.SequenceNumber), fmt.Sprintf("nibble_pair=%#x", v.NibblePair)}
	case AliasMapDefinitionPayload:
		return []string{fmt.Sprintf("node_id=%s", v.NodeID)}
	case AliasMapEnquiryPayload:
		if v.HasNodeID {
			return []string{fmt.Sprintf("node_id=%s", v.NodeID)}
		}
		return nil
	case AliasMapResetPayload:
		return []string{fmt.Sprintf("node_id=%s", v.NodeID)}
	case ErrorInformationReportPayload:
		return []string{fmt.Sprintf("code=%d", v.Code)}
	case InitializationCompletePayload:
		return []string{fmt.Sprintf("node_id=%s", v.NodeID)}
	case VerifyNodeIdPayload:
		if v.HasNodeID {
			return []string{fmt.Sprintf("node_id=%s", v.NodeID)}
		}
		return nil
	case VerifiedNodeIdPayload:
		return []string{fmt.Sprintf("node_id=%s", v.NodeID)}
	case OptionalInteractionRejectedPayload:
		return []string{fmt.Sprintf("error_code=%#x", v.ErrorCode)}
	case TerminateDueToErrorPayload:
		return []string{fmt.Sprintf("error_code=%#x", v.ErrorCode)}
	case ProtocolSupportReplyPayload:
		return []string{fmt.Sprintf("support=%+v", v.Support)}
	case ProducerConsumerReportPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID)}
	case IdentifyConsumerPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID)}
	case ConsumerIdentifiedPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID), fmt.Sprintf("status=%d", v.Status)}
	case ConsumerRangeIdentifiedPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID)}
	case IdentifyProducerPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID)}
	case ProducerIdentifiedPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID), fmt.Sprintf("status=%d", v.Status)}
	case ProducerRangeIdentifiedPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID)}
	case LearnEventPayload:
		return []string{fmt.Sprintf("event_id=%s", v.EventID)}
	case SimpleNodeIdentInfoReplyPayload:
		return []string{fmt.Sprintf("manufacturer=%q", v.Info.Manufacturer), fmt.Sprintf("model=%q", v.Info.Model)}
	case DatagramRejectedPayload:
		return []string{fmt.Sprintf("error_code=%#x", v.ErrorCode)}
	case DatagramPayload:
		fields := []string{fmt.Sprintf("protocol_type=%#x", v.ProtocolType)}
		if v.MemConfig != nil {
			fields = append(fields, fmt.Sprintf("command=%s", v.MemConfig.Op))
		}
		return fields
	case UnknownMtiMessagePayload:
		return []string{fmt.Sprintf("mti=%#x", v.MTI)}
	case InvalidFramePayload:
		return []string{fmt.Sprintf("raw=% X", v.Raw)}
	case OpaquePayload:
		return []string{fmt.Sprintf("raw=% X", v.Raw)}
	default:
		return nil
	}
}
