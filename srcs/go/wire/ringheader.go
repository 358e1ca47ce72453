package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// RingHeaderSize is the encoded size of RingHeader in bytes.
const RingHeaderSize = 25

type MessageType uint8

const (
	ScatterReduceData MessageType = 1
	AllGatherData     MessageType = 2
	RoundComplete     MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case ScatterReduceData:
		return "SCATTER_REDUCE_DATA"
	case AllGatherData:
		return "ALL_GATHER_DATA"
	case RoundComplete:
		return "ROUND_COMPLETE"
	default:
		return ""
	}
}

// RingHeader frames every stream record of the ring protocol. Index
// is the position within the global array of totalPackets elements,
// Chunk the logical chunk it belongs to, Pass the round within the
// sender's current phase.
type RingHeader struct {
	MessageType MessageType
	Index       uint32
	AggData     int32
	Pass        uint32
	Chunk       uint32
	Sender      uint32
	Phase       uint32
}

func (h RingHeader) WriteTo(w io.Writer) error {
	return binary.Write(w, endian, &h)
}

func (h *RingHeader) ReadFrom(r io.Reader) error {
	return binary.Read(r, endian, h)
}

func (h RingHeader) Marshal() []byte {
	b := &bytes.Buffer{}
	h.WriteTo(b)
	return b.Bytes()
}

func (h *RingHeader) Unmarshal(p []byte) error {
	if len(p) < RingHeaderSize {
		return ErrShortRecord
	}
	return h.ReadFrom(bytes.NewReader(p[:RingHeaderSize]))
}

func (h RingHeader) String() string {
	return fmt.Sprintf("ring{%s,idx=%d,pass=%d,chunk=%d,from=%d,agg=%d}",
		h.MessageType, h.Index, h.Pass, h.Chunk, h.Sender, h.AggData)
}
