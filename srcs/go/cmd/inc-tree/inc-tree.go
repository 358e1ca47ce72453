package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/base"
	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/inc"
	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/monitor"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/sim"
	"github.com/Qccccc512/incnet/srcs/go/utils"
)

var (
	hosts     = flag.Int("hosts", 4, "number of hosts under the generated switch tree")
	packets   = flag.Int("packets", 1024, "records per session")
	window    = flag.Int("window", 64, "host send window")
	array     = flag.Int("array", 64, "aggregation slots per switch")
	fill      = flag.Int("fill", 1, "value every host contributes per record")
	op        = flag.String("op", base.DefaultOP.String(), "aggregation operation")
	topofile  = flag.String("topofile", "", "topology file (.json or .yaml), overrides -hosts")
	writeTopo = flag.String("write-topo", "", "write the topology to this file and exit")
	netKind   = flag.String("net", "sim", "network backend: sim | udp (udp needs a -topofile with locally bindable addresses)")
	loss      = flag.Float64("loss", 0, "simulated loss rate")
	latency   = flag.Duration("latency", 100*time.Microsecond, "simulated link latency")
	seed      = flag.Int64("seed", 1, "simulation seed")
	timeout   = flag.Duration("timeout", 30*time.Second, "simulated or wall clock budget")
	debugPort = flag.Int("debug-port", 0, "expose monitor counters on this port")
)

func main() {
	flag.Parse()
	t0 := time.Now()
	defer func() { log.Infof("inc-tree took %s", time.Since(t0)) }()
	if *debugPort > 0 {
		monitor.StartServer(*debugPort)
		defer monitor.StopServer()
	}
	tc, err := loadTopo()
	if err != nil {
		utils.ExitErr(err)
	}
	if len(*writeTopo) > 0 {
		if err := tc.WriteToFile(*writeTopo); err != nil {
			utils.ExitErr(err)
		}
		log.Infof("wrote topology with %d hosts and %d switches to %s", len(tc.Hosts), len(tc.Switches), *writeTopo)
		return
	}
	switch *netKind {
	case `sim`:
		runSim(tc)
	case `udp`:
		runUDP(tc)
	default:
		utils.ExitErr(fmt.Errorf("unknown -net %q", *netKind))
	}
}

func loadTopo() (*plan.TopoConfig, error) {
	if len(*topofile) > 0 {
		return plan.ReadTopoConfig(*topofile)
	}
	o, err := base.ParseOP(*op)
	if err != nil {
		return nil, err
	}
	return plan.GenTreeConfig(*hosts, 1, *array, *window, *packets, int32(*fill), *o)
}

func runSim(tc *plan.TopoConfig) {
	loop := event.NewLoop()
	fabric := sim.NewNet(loop, *latency, *loss, *seed)
	tree, err := inc.BuildTree(fabric, loop, tc, inc.TreeConfig{
		HostRetransmit:   500 * time.Microsecond,
		SwitchRetransmit: 2 * time.Millisecond,
		ProcessingDelay:  10 * time.Microsecond,
	})
	if err != nil {
		utils.ExitErr(err)
	}
	defer tree.Stop()
	if err := tree.AllReduce(); err != nil {
		utils.ExitErr(err)
	}
	loop.RunUntil(*timeout)
	report(tree, loop.Now())
}

func runUDP(tc *plan.TopoConfig) {
	clock := event.NewClock()
	tree, err := inc.BuildTree(&inc.UDPNet{}, clock, tc, inc.TreeConfig{})
	if err != nil {
		utils.ExitErr(err)
	}
	defer tree.Stop()
	if err := tree.AllReduce(); err != nil {
		utils.ExitErr(err)
	}
	deadline := time.Now().Add(*timeout)
	for !tree.Done() {
		if time.Now().After(deadline) {
			log.Exitf("aggregation incomplete after %s", *timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	report(tree, clock.Now())
}

func report(tree *inc.Tree, took time.Duration) {
	if !tree.Done() {
		log.Exitf("aggregation incomplete after %s", took)
	}
	first := tree.Hosts[0].RecvBuffer()
	for r, h := range tree.Hosts[1:] {
		buf := h.RecvBuffer()
		for i := range buf {
			if buf[i] != first[i] {
				log.Exitf("host %d disagrees at lane %d: %d != %d", r+1, i, buf[i], first[i])
			}
		}
	}
	log.Infof("%d hosts agree on %d lanes after %s, result[0]=%d", len(tree.Hosts), len(first), took, first[0])
}
