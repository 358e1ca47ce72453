package runner

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/Qccccc512/incnet/srcs/go/config"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

// Env keys a launched process inherits from the launcher. Drivers fall
// back to these when the matching flags are unset.
const (
	JobIDEnvKey    = `INCNET_JOB_ID`
	SelfRankEnvKey = `INCNET_SELF_RANK`
	PeerListEnvKey = `INCNET_PEER_LIST`
)

// Job describes one command launched once per peer across a host list.
type Job struct {
	ID        string
	Prog      string
	Args      []string
	HostList  plan.HostList
	PortRange plan.PortRange
	LogDir    string
}

// NewJobID returns a fresh identifier shared by every process of one
// launch.
func NewJobID() string {
	return uuid.NewString()
}

func (j Job) NewProc(peer plan.NetAddr, rank int, pl plan.PeerList) Proc {
	envs := Envs{
		JobIDEnvKey:    j.ID,
		SelfRankEnvKey: strconv.Itoa(rank),
		PeerListEnvKey: pl.String(),
	}
	allEnvs := Merge(getConfigEnvs(), envs)
	var pubAddr string
	for _, h := range j.HostList {
		if h.Hostname == peer.IPv4 {
			pubAddr = h.PublicAddr
		}
	}
	return Proc{
		Name:    fmt.Sprintf("%s.%d", plan.FormatIPv4(peer.IPv4), peer.Port),
		Prog:    j.Prog,
		Args:    j.Args,
		Envs:    allEnvs,
		IPv4:    peer.IPv4,
		PubAddr: pubAddr,
		LogDir:  j.LogDir,
	}
}

// CreateAllProcs builds one Proc per peer, rank following list order.
func (j Job) CreateAllProcs(pl plan.PeerList) []Proc {
	var ps []Proc
	for rank, peer := range pl {
		ps = append(ps, j.NewProc(peer, rank, pl))
	}
	return ps
}

// CreateProcs builds the Procs of the peers living on one host,
// keeping their global ranks.
func (j Job) CreateProcs(pl plan.PeerList, host uint32) []Proc {
	var ps []Proc
	for rank, peer := range pl {
		if peer.IPv4 == host {
			ps = append(ps, j.NewProc(peer, rank, pl))
		}
	}
	return ps
}

func getConfigEnvs() Envs {
	envs := make(Envs)
	for _, k := range config.ConfigEnvKeys {
		if val := os.Getenv(k); len(val) > 0 {
			envs[k] = val
		}
	}
	return envs
}
