package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/monitor"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/ring"
	"github.com/Qccccc512/incnet/srcs/go/runner"
	"github.com/Qccccc512/incnet/srcs/go/sim"
	"github.com/Qccccc512/incnet/srcs/go/utils"
)

var (
	nodes     = flag.Int("nodes", 4, "ring size for -net sim")
	packets   = flag.Int("packets", 1024, "total records, must divide by the ring size")
	payload   = flag.Int("payload", ring.DefaultPayloadSize, "payload bytes per record")
	netKind   = flag.String("net", "sim", "network backend: sim | tcp")
	peers     = flag.String("peers", "", "comma separated ip:port ring in rank order (tcp)")
	rank      = flag.Int("rank", -1, "this peer's rank in -peers (tcp)")
	start     = flag.Duration("start", ring.DefaultTransferStart, "transfer start time")
	interval  = flag.Duration("interval", ring.DefaultPacketInterval, "record pacing interval")
	latency   = flag.Duration("latency", 100*time.Microsecond, "simulated link latency")
	timeout   = flag.Duration("timeout", 60*time.Second, "wall clock budget (tcp)")
	debugPort = flag.Int("debug-port", 0, "expose monitor counters on this port")
)

func main() {
	flag.Parse()
	t0 := time.Now()
	defer func() { log.Infof("inc-ring took %s", time.Since(t0)) }()
	if id := os.Getenv(runner.JobIDEnvKey); len(id) > 0 {
		log.Infof("job %s", id)
	}
	if *debugPort > 0 {
		monitor.StartServer(*debugPort)
		defer monitor.StopServer()
	}
	switch *netKind {
	case `sim`:
		runSim()
	case `tcp`:
		runTCP()
	default:
		utils.ExitErr(fmt.Errorf("unknown -net %q", *netKind))
	}
}

func simPeers(n int) plan.PeerList {
	base := plan.MustParseIPv4(`10.0.2.0`)
	var pl plan.PeerList
	for i := 0; i < n; i++ {
		pl = append(pl, plan.NetAddr{IPv4: base + uint32(i) + 1, Port: 7000})
	}
	return pl
}

func runSim() {
	loop := event.NewLoop()
	net := sim.NewStreamNet(loop, *latency, 0, 1)
	r, err := ring.BuildRing(ring.SimTransport{Net: net}, loop, simPeers(*nodes), *packets, ring.RingConfig{
		PayloadSize:    *payload,
		TransferStart:  *start,
		PacketInterval: *interval,
	})
	if err != nil {
		utils.ExitErr(err)
	}
	defer r.Stop()
	if err := r.Start(); err != nil {
		utils.ExitErr(err)
	}
	loop.Run()
	if !r.Done() || !r.Verify() {
		log.Exitf("ring incomplete or results invalid after %s virtual time", loop.Now())
	}
	log.Infof("%d peers allgathered %d records after %s virtual time, result[0]=%d",
		*nodes, *packets, loop.Now(), r.Peers[0].Results()[0])
}

func runTCP() {
	pl, rk, err := tcpIdentity()
	if err != nil {
		utils.ExitErr(err)
	}
	clock := event.NewClock()
	p, err := ring.NewPeer(ring.TCPTransport{BufSize: ring.DefaultRecvBufSize}, clock, ring.PeerConfig{
		NodeID:         uint32(rk),
		Nodes:          uint32(len(pl)),
		TotalPackets:   uint32(*packets),
		PayloadSize:    *payload,
		TransferStart:  *start,
		PacketInterval: *interval,
		Local:          pl[rk],
		Peer:           pl[(rk+1)%len(pl)],
	})
	if err != nil {
		utils.ExitErr(err)
	}
	defer p.Stop()
	if err := p.Start(); err != nil {
		utils.ExitErr(err)
	}
	deadline := time.Now().Add(*timeout)
	for p.Phase() != ring.Done {
		if time.Now().After(deadline) {
			log.Exitf("ring incomplete after %s, still in %s", *timeout, p.Phase())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !p.VerifyResults() {
		log.Exitf("results invalid")
	}
	log.Infof("rank %d allgathered %d records, result[0]=%d", rk, *packets, p.Results()[0])
}

// tcpIdentity resolves the peer list and own rank from flags, falling
// back to the launcher's environment.
func tcpIdentity() (plan.PeerList, int, error) {
	ps, rk := *peers, *rank
	if len(ps) == 0 {
		ps = os.Getenv(runner.PeerListEnvKey)
	}
	if rk < 0 {
		if v := os.Getenv(runner.SelfRankEnvKey); len(v) > 0 {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, 0, err
			}
			rk = n
		}
	}
	pl, err := plan.ParsePeerList(ps)
	if err != nil {
		return nil, 0, err
	}
	if rk < 0 || rk >= len(pl) {
		return nil, 0, fmt.Errorf("rank %d outside peer list of %d", rk, len(pl))
	}
	return pl, rk, nil
}
