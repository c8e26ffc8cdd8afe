package serial

import (
	"bytes"
	"testing"

	"github.com/ampio/lcc-gateway/internal/can"
	"github.com/ampio/lcc-gateway/internal/metrics"
)

// TestDecodeStreamMalformed ensures a lost-sync lead byte increments the
// malformed-frame metric and that decoding resumes on the next valid record.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	garbage := []byte{0x01, 0x02, 0x03}
	good := codec.Encode(f(0x00000042, 0xAA))
	buf.Write(garbage)
	buf.Write(good)

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	after := metrics.Snap().Malformed
	if after <= before {
		t.Fatalf("expected malformed metric increment, before=%d after=%d", before, after)
	}
	if len(got) != 1 {
		t.Fatalf("expected to recover 1 frame after resync, got %d", len(got))
	}
	if got[0].CANID&can.CAN_EFF_MASK != 0x42 {
		t.Fatalf("unexpected recovered frame id: %#x", got[0].CANID)
	}
}

// TestDecodeStreamShortRecord ensures a partial record is held back until
// the remaining bytes arrive rather than being misparsed.
func TestDecodeStreamShortRecord(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	rec := codec.Encode(f(0x00000099, 1, 2, 3))

	buf.Write(rec[:10])
	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no frame from partial record, got %d", len(got))
	}

	buf.Write(rec[10:])
	if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 frame once record completes, got %d", len(got))
	}
}
