package plan

import (
	"errors"
	"net"
	"strconv"
)

// NetAddr is the transport address of a peer.
type NetAddr struct {
	IPv4 uint32
	Port uint16
}

func (a NetAddr) ColocatedWith(b NetAddr) bool {
	return a.IPv4 == b.IPv4
}

func (a NetAddr) String() string {
	return net.JoinHostPort(FormatIPv4(a.IPv4), strconv.Itoa(int(a.Port)))
}

func FormatIPv4(ipv4 uint32) string {
	ip := net.IPv4(byte(ipv4>>24), byte(ipv4>>16), byte(ipv4>>8), byte(ipv4))
	return ip.String()
}

var (
	errInvalidIPv4 = errors.New("invalid IPv4")
	errInvalidPort = errors.New("invalid port")
)

func ParseIPv4(host string) (uint32, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return 0, errInvalidIPv4
	}
	ip = ip.To4()
	if ip == nil {
		return 0, errInvalidIPv4
	}
	return PackIPv4(ip), nil
}

func PackIPv4(ip net.IP) uint32 {
	a := uint32(ip[0]) << 24
	b := uint32(ip[1]) << 16
	c := uint32(ip[2]) << 8
	d := uint32(ip[3])
	return a | b | c | d
}

func MustParseIPv4(host string) uint32 {
	ipv4, err := ParseIPv4(host)
	if err != nil {
		panic(err)
	}
	return ipv4
}

func ParseNetAddr(val string) (*NetAddr, error) {
	host, p, err := net.SplitHostPort(val)
	if err != nil {
		return nil, err
	}
	ipv4, err := ParseIPv4(host)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return nil, err
	}
	if int(uint16(port)) != port {
		return nil, errInvalidPort
	}
	return &NetAddr{
		IPv4: ipv4,
		Port: uint16(port),
	}, nil
}
