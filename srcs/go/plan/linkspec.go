package plan

import (
	"errors"
	"strconv"
	"strings"
)

var errInvalidLinkSpec = errors.New("Invalid LinkSpec")

// LinkSpec wires one outbound direction of a switch link. ToChild
// tells whether the peer sits below this switch in the aggregation
// tree; the reverse direction is registered by the peer itself.
type LinkSpec struct {
	Local   Endpoint
	Peer    Endpoint
	ToChild bool
}

func (l LinkSpec) String() string {
	dir := `parent`
	if l.ToChild {
		dir = `child`
	}
	return strings.Join([]string{l.Local.String(), l.Peer.String(), dir}, ":")
}

func ParseLinkSpec(spec string) (*LinkSpec, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 5 {
		return nil, errInvalidLinkSpec
	}
	localIP, err := ParseIPv4(parts[0])
	if err != nil {
		return nil, err
	}
	localQP, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errInvalidLinkSpec
	}
	peerIP, err := ParseIPv4(parts[2])
	if err != nil {
		return nil, err
	}
	peerQP, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, errInvalidLinkSpec
	}
	var toChild bool
	switch parts[4] {
	case `child`:
		toChild = true
	case `parent`:
		toChild = false
	default:
		return nil, errInvalidLinkSpec
	}
	return &LinkSpec{
		Local:   Endpoint{IPv4: localIP, QP: uint16(localQP)},
		Peer:    Endpoint{IPv4: peerIP, QP: uint16(peerQP)},
		ToChild: toChild,
	}, nil
}

type LinkList []LinkSpec

func (ll LinkList) String() string {
	var ss []string
	for _, l := range ll {
		ss = append(ss, l.String())
	}
	return strings.Join(ss, ",")
}

func ParseLinkList(val string) (LinkList, error) {
	var ll LinkList
	for _, s := range strings.Split(val, ",") {
		l, err := ParseLinkSpec(s)
		if err != nil {
			return nil, err
		}
		ll = append(ll, *l)
	}
	return ll, nil
}
