package ring

import (
	"testing"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/sim"
)

var (
	_ Transport = SimTransport{}
	_ Transport = TCPTransport{}
)

func ringAddrs(n int) plan.PeerList {
	base := plan.MustParseIPv4("10.0.2.0")
	var peers plan.PeerList
	for i := 0; i < n; i++ {
		peers = append(peers, plan.NetAddr{IPv4: base + uint32(i) + 1, Port: 7000})
	}
	return peers
}

func checkRing(t *testing.T, r *Ring, nodes int, total uint32) {
	if !r.Done() {
		t.Fatal("ring did not finish")
	}
	if !r.Verify() {
		t.Error("results failed verification")
	}
	rounds := int64(nodes - 1)
	for rank, p := range r.Peers {
		results := p.Results()
		if len(results) != int(total) {
			t.Fatalf("rank %d holds %d results, want %d", rank, len(results), total)
		}
		for i, v := range results {
			if v != int32(nodes) {
				t.Errorf("rank %d result[%d] = %d, want %d", rank, i, v, nodes)
				break
			}
		}
		st := p.Stats()
		if st.ScatterRCSent != rounds || st.GatherRCSent != rounds {
			t.Errorf("rank %d sent %d+%d round completes, want %d per phase", rank, st.ScatterRCSent, st.GatherRCSent, rounds)
		}
		if st.ScatterRCRecv != rounds || st.GatherRCRecv != rounds {
			t.Errorf("rank %d received %d+%d round completes, want %d per phase", rank, st.ScatterRCRecv, st.GatherRCRecv, rounds)
		}
		if want := 2 * rounds * int64(p.PacketsPerChunk()); st.DataSent != want {
			t.Errorf("rank %d sent %d records, want %d", rank, st.DataSent, want)
		}
		if st.Unexpected != 0 {
			t.Errorf("rank %d saw %d unexpected records", rank, st.Unexpected)
		}
	}
}

func Test_RingFourPeers(t *testing.T) {
	loop := event.NewLoop()
	net := sim.NewStreamNet(loop, 200*time.Microsecond, 0, 1)
	done := 0
	r, err := BuildRing(SimTransport{Net: net}, loop, ringAddrs(4), 16, RingConfig{
		PayloadSize:    32,
		TransferStart:  time.Millisecond,
		PacketInterval: 10 * time.Microsecond,
		OnComplete:     func(rank int) { done++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	loop.Run()
	checkRing(t, r, 4, 16)
	if done != 4 {
		t.Errorf("%d completion hooks fired, want 4", done)
	}
}

func Test_RingChunkyStreams(t *testing.T) {
	loop := event.NewLoop()
	net := sim.NewStreamNet(loop, 100*time.Microsecond, 7, 42)
	r, err := BuildRing(SimTransport{Net: net}, loop, ringAddrs(4), 16, RingConfig{
		PayloadSize:    16,
		TransferStart:  time.Millisecond,
		PacketInterval: 10 * time.Microsecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	loop.Run()
	checkRing(t, r, 4, 16)
}

func Test_RingEightPeers(t *testing.T) {
	loop := event.NewLoop()
	net := sim.NewStreamNet(loop, 100*time.Microsecond, 0, 1)
	r, err := BuildRing(SimTransport{Net: net}, loop, ringAddrs(8), 64, RingConfig{
		PayloadSize:    64,
		TransferStart:  time.Millisecond,
		PacketInterval: 10 * time.Microsecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	loop.Run()
	checkRing(t, r, 8, 64)
}

func Test_RingTCPPair(t *testing.T) {
	clock := event.NewClock()
	peers := plan.PeerList{
		{IPv4: plan.MustParseIPv4("127.0.0.1"), Port: 23390},
		{IPv4: plan.MustParseIPv4("127.0.0.1"), Port: 23391},
	}
	r, err := BuildRing(TCPTransport{BufSize: 32 * 1024}, clock, peers, 8, RingConfig{
		PayloadSize:    64,
		TransferStart:  200 * time.Millisecond,
		PacketInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !r.Done() {
		if time.Now().After(deadline) {
			t.Fatal("ring did not finish over TCP")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !r.Verify() {
		t.Error("results failed verification")
	}
	for rank, p := range r.Peers {
		for i, v := range p.Results() {
			if v != 2 {
				t.Errorf("rank %d result[%d] = %d, want 2", rank, i, v)
				break
			}
		}
	}
}
