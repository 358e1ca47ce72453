package wire

import "testing"

func Test_RingHeaderRoundTrip(t *testing.T) {
	h := RingHeader{
		MessageType: ScatterReduceData,
		Index:       42,
		AggData:     -7,
		Pass:        2,
		Chunk:       3,
		Sender:      1,
		Phase:       2,
	}
	p := h.Marshal()
	if len(p) != RingHeaderSize {
		t.Fatalf("got %d bytes, want %d", len(p), RingHeaderSize)
	}
	var g RingHeader
	if err := g.Unmarshal(p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if g != h {
		t.Errorf("got %s, want %s", g, h)
	}
}

func Test_RingHeaderByteLayout(t *testing.T) {
	h := RingHeader{
		MessageType: RoundComplete,
		Index:       0x01020304,
		AggData:     0x05060708,
		Pass:        0x090a0b0c,
		Chunk:       0x0d0e0f10,
		Sender:      0x11121314,
		Phase:       0x15161718,
	}
	p := h.Marshal()
	if p[0] != uint8(RoundComplete) {
		t.Errorf("got type byte %#02x, want %#02x", p[0], uint8(RoundComplete))
	}
	if p[1] != 0x01 || p[4] != 0x04 {
		t.Errorf("index not network order: % x", p[1:5])
	}
	if p[21] != 0x15 || p[24] != 0x18 {
		t.Errorf("phase not network order: % x", p[21:])
	}
}

func Test_RingHeaderShortRecord(t *testing.T) {
	var h RingHeader
	if err := h.Unmarshal(make([]byte, RingHeaderSize-1)); err != ErrShortRecord {
		t.Errorf("got %v, want ErrShortRecord", err)
	}
}
