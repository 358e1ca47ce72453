package wire

import (
	"testing"

	"github.com/Qccccc512/incnet/srcs/go/base"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

func Test_HeaderRoundTrip(t *testing.T) {
	h := Header{
		SrcQP:     1001,
		DstQP:     2002,
		SrcAddr:   plan.MustParseIPv4(`192.168.1.1`),
		DstAddr:   plan.MustParseIPv4(`192.168.1.2`),
		PSN:       12345,
		Operation: base.SUM,
		CWnd:      100,
		GroupID:   5,
		Length:    1024,
		AggData:   0,
	}
	h.SetDataType(base.I32)
	h.SetFlag(FlagACK)

	p := h.Marshal()
	if len(p) != HeaderSize {
		t.Fatalf("got %d bytes, want %d", len(p), HeaderSize)
	}
	var g Header
	if err := g.Unmarshal(p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if g != h {
		t.Errorf("got %s, want %s", g, h)
	}
}

func Test_HeaderByteLayout(t *testing.T) {
	h := Header{
		SrcQP:   0x0102,
		DstQP:   0x0304,
		SrcAddr: 0x05060708,
		DstAddr: 0x090a0b0c,
		PSN:     0x0d0e0f10,
		CWnd:    0x1314,
		GroupID: 0x1516,
		Length:  0x1718,
		AggData: 0x191a1b1c,
	}
	h.Operation = base.MAX
	h.SetDataType(base.I32)
	h.SetFlags(FlagNACK | FlagSYNC)
	p := h.Marshal()
	if p[0] != 0x01 || p[1] != 0x02 {
		t.Errorf("source queue pair not network order: % x", p[:2])
	}
	if p[16] != uint8(base.MAX) {
		t.Errorf("got op byte %#02x, want %#02x", p[16], uint8(base.MAX))
	}
	if p[17] != 0x16 {
		t.Errorf("got type and flags byte %#02x, want 0x16", p[17])
	}
	if p[24] != 0x19 || p[27] != 0x1c {
		t.Errorf("payload not network order: % x", p[24:])
	}
}

func Test_HeaderFlags(t *testing.T) {
	var h Header
	h.SetDataType(base.I32)
	h.SetFlag(FlagACK)
	h.SetFlag(FlagCTRL)
	if !h.HasFlag(FlagACK) || !h.HasFlag(FlagCTRL) {
		t.Errorf("flags lost: %#02x", h.TypeAndFlags)
	}
	if h.HasFlag(FlagNACK) || h.HasFlag(FlagSYNC) {
		t.Errorf("unexpected flags: %#02x", h.TypeAndFlags)
	}
	if got := h.DataType(); got != base.I32 {
		t.Errorf("got data type %d, want %d", got, base.I32)
	}
	h.SetFlags(FlagNACK)
	if h.HasFlag(FlagACK) {
		t.Errorf("SetFlags should replace the flag nibble")
	}
	if got := h.DataType(); got != base.I32 {
		t.Errorf("SetFlags clobbered the data type: %d", got)
	}
	h.SetDataType(base.DataType(2))
	if !h.HasFlag(FlagNACK) {
		t.Errorf("SetDataType clobbered the flag nibble")
	}
}

func Test_HeaderShortRecord(t *testing.T) {
	var h Header
	if err := h.Unmarshal(make([]byte, HeaderSize-1)); err != ErrShortRecord {
		t.Errorf("got %v, want ErrShortRecord", err)
	}
	if err := h.Unmarshal(make([]byte, HeaderSize+100)); err != nil {
		t.Errorf("trailing payload should be ignored: %v", err)
	}
}
