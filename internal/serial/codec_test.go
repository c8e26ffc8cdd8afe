package serial

import (
	"bytes"
	"testing"

	"github.com/ampio/lcc-gateway/internal/can"
)

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestSerialCodec_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	want := []can.Frame{
		f(0x0001E5A, 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7), // 8B
		f(0x0001F55, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6),             // 6B
		f(0x0123456, 0x9A, 0xBC),                                     // 2B
		f(0x01ABCDE, 0xDE, 0xAD, 0xBE),                               // 3B
		f(0x0000001),                                                 // 0B
	}

	stream := make([]byte, 0, 512)
	for _, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress partial-record handling.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11, 16}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) {
			got = append(got, fr.CopyShallow())
		}); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CANID != want[i].CANID ||
			got[i].Len != want[i].Len ||
			string(got[i].Data[:got[i].Len]) != string(want[i].Data[:want[i].Len]) {
			t.Fatalf("frame %d mismatch\n got  id=0x%X len=%d data=% X\n want id=0x%X len=%d data=% X",
				i,
				got[i].CANID, got[i].Len, got[i].Data[:got[i].Len],
				want[i].CANID, want[i].Len, want[i].Data[:want[i].Len])
		}
	}
}

func TestSerialCodec_Encode_TopNibbleMasked(t *testing.T) {
	codec := Codec{}
	fr := f(0x1FFFFFFF) // max 29-bit ID
	rec := codec.Encode(fr)
	if rec[4]&0xE0 != 0 {
		t.Fatalf("expected top 3 bits of id byte 4 clear, got %02X", rec[4])
	}
}
