package plan

import (
	"strings"
)

type PeerList []NetAddr

func (pl PeerList) String() string {
	var parts []string
	for _, p := range pl {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, ",")
}

func (pl PeerList) Rank(ps NetAddr) (int, bool) {
	for i, p := range pl {
		if p == ps {
			return i, true
		}
	}
	return -1, false
}

func (pl PeerList) On(host uint32) PeerList {
	var ql PeerList
	for _, p := range pl {
		if p.IPv4 == host {
			ql = append(ql, p)
		}
	}
	return ql
}

func (pl PeerList) Eq(ql PeerList) bool {
	if len(pl) != len(ql) {
		return false
	}
	for i, p := range pl {
		if p != ql[i] {
			return false
		}
	}
	return true
}

func ParsePeerList(val string) (PeerList, error) {
	var pl PeerList
	for _, p := range strings.Split(val, ",") {
		id, err := ParseNetAddr(p)
		if err != nil {
			return nil, err
		}
		pl = append(pl, *id)
	}
	return pl, nil
}
