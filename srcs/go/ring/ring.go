package ring

import (
	"errors"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

var errInvalidRing = errors.New("invalid ring topology")

// RingConfig carries the run parameters shared by every peer of one
// ring. Zero fields fall back to the peer defaults.
type RingConfig struct {
	PayloadSize    int
	RecvBufSize    int
	CheckInterval  time.Duration
	RetryInterval  time.Duration
	ConnectDelay   time.Duration
	TransferStart  time.Duration
	PacketInterval time.Duration
	OnComplete     func(rank int)
}

// Ring owns the peers of one allreduce run, indexed by rank.
type Ring struct {
	Peers []*Peer
}

// BuildRing constructs one peer per list entry. Rank r connects to
// rank (r+1) mod n and listens for rank (r-1+n) mod n.
func BuildRing(tr Transport, sched event.Scheduler, peers plan.PeerList, totalPackets int, rc RingConfig) (*Ring, error) {
	if len(peers) < 2 || totalPackets <= 0 {
		return nil, errInvalidRing
	}
	r := &Ring{}
	for rank, addr := range peers {
		cfg := PeerConfig{
			NodeID:         uint32(rank),
			Nodes:          uint32(len(peers)),
			TotalPackets:   uint32(totalPackets),
			PayloadSize:    rc.PayloadSize,
			RecvBufSize:    rc.RecvBufSize,
			CheckInterval:  rc.CheckInterval,
			RetryInterval:  rc.RetryInterval,
			ConnectDelay:   rc.ConnectDelay,
			TransferStart:  rc.TransferStart,
			PacketInterval: rc.PacketInterval,
			Local:          addr,
			Peer:           peers[(rank+1)%len(peers)],
		}
		if rc.OnComplete != nil {
			rank := rank
			cfg.OnComplete = func() { rc.OnComplete(rank) }
		}
		p, err := NewPeer(tr, sched, cfg)
		if err != nil {
			r.Stop()
			return nil, err
		}
		r.Peers = append(r.Peers, p)
	}
	return r, nil
}

// Start launches every peer's connect and transfer timeline.
func (r *Ring) Start() error {
	for _, p := range r.Peers {
		if err := p.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Done reports whether every peer reached the DONE phase.
func (r *Ring) Done() bool {
	for _, p := range r.Peers {
		if p.Phase() != Done {
			return false
		}
	}
	return true
}

// Verify reports whether every peer holds the full reduction.
func (r *Ring) Verify() bool {
	for _, p := range r.Peers {
		if !p.VerifyResults() {
			return false
		}
	}
	return true
}

// Stop tears every peer down.
func (r *Ring) Stop() {
	for _, p := range r.Peers {
		p.Stop()
	}
}
