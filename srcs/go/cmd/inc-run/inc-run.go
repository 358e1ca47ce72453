package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/log"
	"github.com/Qccccc512/incnet/srcs/go/plan"
	"github.com/Qccccc512/incnet/srcs/go/runner"
	"github.com/Qccccc512/incnet/srcs/go/runner/local"
	"github.com/Qccccc512/incnet/srcs/go/runner/remote"
	"github.com/Qccccc512/incnet/srcs/go/utils"
)

type FlagSet struct {
	ClusterSize int
	hostList    string
	HostList    plan.HostList
	portRange   string
	PortRange   plan.PortRange
	User        string
	Self        string
	Timeout     time.Duration
	VerboseLog  bool
	LogDir      string
	Logfile     string
	Quiet       bool

	Prog string
	Args []string
}

var f FlagSet

func init() {
	if err := f.Parse(); err != nil {
		utils.ExitErr(err)
	}
	if !f.Quiet {
		utils.LogArgs()
		utils.LogIncnetEnv()
		utils.LogNICInfo()
	}
}

func (f *FlagSet) Register() {
	flag.IntVar(&f.ClusterSize, "np", 1, "number of peers")
	flag.StringVar(&f.hostList, "H", plan.HostList{plan.DefaultHostSpec}.String(), "comma separated list of <internal IP>[:<nslots>[:<public addr>]]")
	flag.StringVar(&f.portRange, "port-range", plan.DefaultPortRange.String(), "port range for the peers")
	flag.StringVar(&f.User, "u", "", "user name for ssh")
	flag.StringVar(&f.Self, "self", "", "internal IPv4; set to launch only this host's peers, locally")
	flag.DurationVar(&f.Timeout, "timeout", 0, "timeout")
	flag.BoolVar(&f.VerboseLog, "v", true, "show task log")
	flag.StringVar(&f.LogDir, "logdir", "logs", "directory for per task logs")
	flag.StringVar(&f.Logfile, "logfile", "", "path to log file")
	flag.BoolVar(&f.Quiet, "q", false, "don't log debug info")
}

var errMissingProgramName = errors.New("missing program name")

func (f *FlagSet) Parse() error {
	f.Register()
	flag.Parse()
	hl, err := plan.ParseHostList(f.hostList)
	if err != nil {
		return fmt.Errorf("failed to parse -H: %v", err)
	}
	f.HostList = hl
	pr, err := plan.ParsePortRange(f.portRange)
	if err != nil {
		return fmt.Errorf("failed to parse -port-range: %v", err)
	}
	f.PortRange = *pr
	args := flag.Args()
	if len(args) < 1 {
		return errMissingProgramName
	}
	f.Prog = args[0]
	f.Args = args[1:]
	return nil
}

func main() {
	if len(f.Logfile) > 0 {
		lf, err := os.Create(f.Logfile)
		if err != nil {
			utils.ExitErr(err)
		}
		defer lf.Close()
		log.SetOutput(lf)
	}
	t0 := time.Now()
	defer func() { log.Infof("inc-run took %s", time.Since(t0)) }()
	peers, err := f.HostList.GenPeerList(f.ClusterSize, f.PortRange)
	if err != nil {
		utils.ExitErr(fmt.Errorf("failed to create peers: %v", err))
	}
	j := runner.Job{
		ID:        runner.NewJobID(),
		Prog:      f.Prog,
		Args:      f.Args,
		HostList:  f.HostList,
		PortRange: f.PortRange,
		LogDir:    f.LogDir,
	}
	log.Infof("job %s: %d peers on %d hosts", j.ID, len(peers), len(f.HostList))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if f.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	if len(f.Self) > 0 {
		selfIPv4, err := plan.ParseIPv4(f.Self)
		if err != nil {
			utils.ExitErr(err)
		}
		procs := j.CreateProcs(peers, selfIPv4)
		log.Infof("will run %d instances of %s locally", len(procs), j.Prog)
		if err := local.RunAll(ctx, procs, f.VerboseLog); err != nil {
			utils.ExitErr(err)
		}
		return
	}
	procs := j.CreateAllProcs(peers)
	log.Infof("will run %d instances of %s over ssh", len(procs), j.Prog)
	if err := remote.RemoteRunAll(ctx, f.User, procs, f.VerboseLog, f.LogDir); err != nil {
		utils.ExitErr(err)
	}
}
