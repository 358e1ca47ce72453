package plan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// All datagram receivers listen on ListenPort. Senders bind the UDP
// source port to EmitterPortBase plus their queue pair number, so a
// reply can be routed back from the header alone.
const (
	ListenPort      = 9
	EmitterPortBase = 1024
)

// Endpoint identifies one end of an aggregation flow: the node address
// plus the queue pair number used in packet headers.
type Endpoint struct {
	IPv4 uint32
	QP   uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", FormatIPv4(e.IPv4), e.QP)
}

// ListenAddr is the datagram address on which e receives.
func (e Endpoint) ListenAddr() NetAddr {
	return NetAddr{IPv4: e.IPv4, Port: ListenPort}
}

// EmitterAddr is the datagram address from which e sends.
func (e Endpoint) EmitterAddr() NetAddr {
	return NetAddr{IPv4: e.IPv4, Port: EmitterPortBase + e.QP}
}

var errInvalidEndpoint = errors.New("invalid endpoint")

func ParseEndpoint(val string) (*Endpoint, error) {
	parts := strings.Split(val, ":")
	if len(parts) != 2 {
		return nil, errInvalidEndpoint
	}
	ipv4, err := ParseIPv4(parts[0])
	if err != nil {
		return nil, err
	}
	qp, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errInvalidEndpoint
	}
	if int(uint16(qp)) != qp {
		return nil, errInvalidEndpoint
	}
	return &Endpoint{IPv4: ipv4, QP: uint16(qp)}, nil
}
