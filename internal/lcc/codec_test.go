package lcc

import (
	"testing"

	"github.com/ampio/lcc-gateway/internal/can"
)

func frame(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = id | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

// TestParse_S1_ProducerConsumerReport reproduces the worked example: ID
// 0x195B4ABC, data 01 23 45 67 89 AB CD EF -> ProducerConsumerReport from
// alias 0xABC carrying event 0123456789ABCDEF.
func TestParse_S1_ProducerConsumerReport(t *testing.T) {
	fr := frame(0x195B4ABC, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF)
	f, err := Parse(fr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Kind != KindProducerConsumerReport {
		t.Fatalf("kind = %v, want ProducerConsumerReport", f.Kind)
	}
	if f.SourceAlias != 0xABC {
		t.Fatalf("source_alias = %v, want 0xABC", f.SourceAlias)
	}
	p, ok := f.ProducerConsumerReport()
	if !ok {
		t.Fatal("payload type assertion failed")
	}
	if p.EventID != 0x0123456789ABCDEF {
		t.Fatalf("event_id = %#X, want 0x0123456789ABCDEF", uint64(p.EventID))
	}
}

// TestParse_S2_AliasMapDefinition reproduces the worked example: ID
// 0x10701ABC, data 02 01 0D 00 00 00 -> AliasMapDefinitionFrame from alias
// 0xABC carrying node ID 02.01.0D.00.00.00.
func TestParse_S2_AliasMapDefinition(t *testing.T) {
	fr := frame(0x10701ABC, 0x02, 0x01, 0x0D, 0x00, 0x00, 0x00)
	f, err := Parse(fr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Kind != KindAliasMapDefinition {
		t.Fatalf("kind = %v, want AliasMapDefinitionFrame", f.Kind)
	}
	if f.SourceAlias != 0xABC {
		t.Fatalf("source_alias = %v, want 0xABC", f.SourceAlias)
	}
	p, ok := f.AliasMapDefinition()
	if !ok {
		t.Fatal("payload type assertion failed")
	}
	want := NodeID{0x02, 0x01, 0x0D, 0x00, 0x00, 0x00}
	if p.NodeID != want {
		t.Fatalf("node_id = %v, want %v", p.NodeID, want)
	}
}

func TestBuild_ProducerConsumerReport_RoundTrip(t *testing.T) {
	f := Frame{
		Kind:        KindProducerConsumerReport,
		SourceAlias: 0xABC,
		Complete:    true,
		Payload:     ProducerConsumerReportPayload{EventID: 0x0123456789ABCDEF},
	}
	fr, err := Build(f, 0xABC)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := Parse(fr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Kind != f.Kind || got.SourceAlias != f.SourceAlias {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestBuild_AddressedMTI_HeaderByte(t *testing.T) {
	f := Frame{
		Kind:        KindProtocolSupportInquiry,
		SourceAlias: 0x123,
		DestAlias:   0x456,
		HasDest:     true,
		Multipart:   MultipartOnly,
		Complete:    true,
		Payload:     ProtocolSupportInquiryPayload{},
	}
	fr, err := Build(f, 0x123)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if fr.Len != 2 {
		t.Fatalf("len = %d, want 2 (dest alias header only)", fr.Len)
	}
	if fr.Data[0] != 0x04 || fr.Data[1] != 0x56 {
		t.Fatalf("header bytes = %02X %02X, want 04 56", fr.Data[0], fr.Data[1])
	}
	back, err := Parse(fr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if back.DestAlias != 0x456 || !back.HasDest {
		t.Fatalf("dest_alias = %v hasDest=%v, want 0x456/true", back.DestAlias, back.HasDest)
	}
	if back.Kind != KindProtocolSupportInquiry {
		t.Fatalf("kind = %v, want ProtocolSupportInquiry", back.Kind)
	}
}

func TestBuildCheckID_SequenceNumberEncoding(t *testing.T) {
	for _, seq := range []uint8{4, 5, 6, 7} {
		fr := BuildCheckID(seq, 0x123, 0x456)
		back, err := Parse(fr)
		if err != nil {
			t.Fatalf("Parse(seq=%d): %v", seq, err)
		}
		p, ok := back.Payload.(CheckIDPayload)
		if !ok {
			t.Fatalf("seq=%d: not a CheckIDPayload: %+v", seq, back)
		}
		if p.SequenceNumber != seq {
			t.Fatalf("seq=%d: decoded sequence = %d", seq, p.SequenceNumber)
		}
		if back.SourceAlias != 0x456 {
			t.Fatalf("seq=%d: alias = %v, want 0x456", seq, back.SourceAlias)
		}
	}
}

func TestParseDatagram_MemConfigRead(t *testing.T) {
	body := BuildMemConfigRead(SpaceCDI, 0x100, 8)
	datagramBody := append([]byte{MemConfigProtocolType}, body...)
	id := uint32(bitReserved|bitOpenLCB) | (uint32(frameTypeDatagramOnly) << frameTypeShift) | (uint32(0x456) << variableShift) | 0x123
	fr := frame(id, datagramBody...)
	f, err := Parse(fr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Kind != KindDatagram {
		t.Fatalf("kind = %v, want Datagram", f.Kind)
	}
	dg, ok := f.Datagram()
	if !ok {
		t.Fatal("payload type assertion failed")
	}
	if dg.MemConfig == nil || dg.MemConfig.Op != MemConfigOpRead {
		t.Fatalf("mem config = %+v, want Read op", dg.MemConfig)
	}
	if dg.MemConfig.Read.Space != SpaceCDI || dg.MemConfig.Read.Address != 0x100 || dg.MemConfig.Read.Count != 8 {
		t.Fatalf("read request = %+v", dg.MemConfig.Read)
	}
}

func TestParseUnknownMTI(t *testing.T) {
	fr := frame(uint32(bitReserved|bitOpenLCB)|(uint32(frameTypeMTI)<<frameTypeShift)|(uint32(0x7FF)<<variableShift)|0x1)
	f, err := Parse(fr)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Kind != KindUnknownMtiMessage {
		t.Fatalf("kind = %v, want UnknownMtiMessage", f.Kind)
	}
}
