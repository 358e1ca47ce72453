package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Qccccc512/incnet/srcs/go/base"
)

// Multi-byte fields are network byte order on the wire. The peers of
// one group need not share a language, so encoding must be byte-exact.
var endian = binary.BigEndian

// HeaderSize is the encoded size of Header in bytes.
const HeaderSize = 28

// DefaultPayloadSize is the filler carried after the header in a
// datagram record.
const DefaultPayloadSize = 1024

const (
	FlagACK  uint8 = 0x1
	FlagNACK uint8 = 0x2
	FlagSYNC uint8 = 0x4
	FlagCTRL uint8 = 0x8
)

// Header is the aggregation record carried in every datagram of the
// tree protocol. Src/dst addresses ride inside the record and flow
// matching uses them, not the enclosing packet headers.
type Header struct {
	SrcQP        uint16
	DstQP        uint16
	SrcAddr      uint32
	DstAddr      uint32
	PSN          uint32
	Operation    base.OP
	TypeAndFlags uint8
	CWnd         uint16
	GroupID      uint16
	Length       uint16
	AggData      int32
}

func (h *Header) DataType() base.DataType {
	return base.DataType(h.TypeAndFlags >> 4)
}

func (h *Header) SetDataType(t base.DataType) {
	h.TypeAndFlags = h.TypeAndFlags&0x0F | uint8(t)<<4
}

func (h *Header) Flags() uint8 {
	return h.TypeAndFlags & 0x0F
}

func (h *Header) SetFlags(f uint8) {
	h.TypeAndFlags = h.TypeAndFlags&0xF0 | f&0x0F
}

func (h *Header) SetFlag(f uint8) {
	h.TypeAndFlags |= f & 0x0F
}

func (h *Header) HasFlag(f uint8) bool {
	return h.TypeAndFlags&(f&0x0F) != 0
}

func (h Header) WriteTo(w io.Writer) error {
	return binary.Write(w, endian, &h)
}

func (h *Header) ReadFrom(r io.Reader) error {
	return binary.Read(r, endian, h)
}

var ErrShortRecord = errors.New("short record")

func (h Header) Marshal() []byte {
	b := &bytes.Buffer{}
	h.WriteTo(b)
	return b.Bytes()
}

func (h *Header) Unmarshal(p []byte) error {
	if len(p) < HeaderSize {
		return ErrShortRecord
	}
	return h.ReadFrom(bytes.NewReader(p[:HeaderSize]))
}

func (h Header) String() string {
	return fmt.Sprintf("header{%d->%d,psn=%d,op=%s,tf=%#02x,group=%d,agg=%d}",
		h.SrcQP, h.DstQP, h.PSN, h.Operation, h.TypeAndFlags, h.GroupID, h.AggData)
}
