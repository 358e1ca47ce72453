package plan

import (
	"encoding/json"
	"errors"
	"os"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/Qccccc512/incnet/srcs/go/base"
)

// TopoConfig describes one aggregation group: the hosts taking part,
// the switch tree between them, and the group parameters shared by
// every node. Serialization to json or to yaml is selected based on
// the file extension.
type TopoConfig struct {
	Group   int    `json:"group" yaml:"group"`
	FanIn   int    `json:"fanIn" yaml:"fanIn"`
	Array   int    `json:"array" yaml:"array"`
	Window  int    `json:"window" yaml:"window"`
	Packets int    `json:"packets" yaml:"packets"`
	Fill    int32  `json:"fill" yaml:"fill"`
	Op      string `json:"op" yaml:"op"`

	Hosts    []HostConfig   `json:"hosts" yaml:"hosts"`
	Switches []SwitchConfig `json:"switches" yaml:"switches"`
}

// HostConfig wires one host to its switch. Both fields are endpoints
// in <ip>:<qp> form.
type HostConfig struct {
	Local  string `json:"local" yaml:"local"`
	Switch string `json:"switch" yaml:"switch"`
}

// SwitchConfig lists the outbound link directions of one switch in
// LinkSpec form.
type SwitchConfig struct {
	Links []string `json:"links" yaml:"links"`
}

func (hc HostConfig) Endpoints() (local, sw *Endpoint, err error) {
	if local, err = ParseEndpoint(hc.Local); err != nil {
		return nil, nil, err
	}
	if sw, err = ParseEndpoint(hc.Switch); err != nil {
		return nil, nil, err
	}
	return local, sw, nil
}

func (sc SwitchConfig) LinkList() (LinkList, error) {
	var ll LinkList
	for _, s := range sc.Links {
		l, err := ParseLinkSpec(s)
		if err != nil {
			return nil, err
		}
		ll = append(ll, *l)
	}
	return ll, nil
}

func (tc TopoConfig) Operation() (*base.OP, error) {
	if len(tc.Op) == 0 {
		op := base.DefaultOP
		return &op, nil
	}
	return base.ParseOP(tc.Op)
}

var errUnknownTopoFormat = errors.New("unknown topology file format")

func ReadTopoConfig(filename string) (*TopoConfig, error) {
	dict, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var tc TopoConfig
	switch pathExt := path.Ext(filename); pathExt {
	case ".yaml", ".YAML", ".yml":
		err = yaml.Unmarshal(dict, &tc)
	case ".json", ".JSON":
		err = json.Unmarshal(dict, &tc)
	default:
		err = errUnknownTopoFormat
	}
	if err != nil {
		return nil, err
	}
	return &tc, nil
}

func (tc *TopoConfig) WriteToFile(filename string) error {
	var dict []byte
	var err error
	switch pathExt := path.Ext(filename); pathExt {
	case ".yaml", ".YAML", ".yml":
		dict, err = yaml.Marshal(*tc)
	case ".json", ".JSON":
		dict, err = json.MarshalIndent(*tc, "", "\t")
	default:
		err = errUnknownTopoFormat
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, dict, 0644)
}

// GenTreeConfig lays a complete binary switch tree over the given
// number of hosts. Hosts take queue pairs 1..hosts in rank order,
// switch link endpoints take the following numbers, so every queue
// pair in the group is unique. Switches get addresses under 10.0.0.0,
// hosts under 10.0.1.0.
func GenTreeConfig(hosts, group, array, window, packets int, fill int32, op base.OP) (*TopoConfig, error) {
	g, err := NewAggregationTree(hosts)
	if err != nil {
		return nil, err
	}
	numSwitches := hosts - 1
	nodeIP := func(i int) uint32 {
		if i < numSwitches {
			return MustParseIPv4(`10.0.0.1`) + uint32(i)
		}
		return MustParseIPv4(`10.0.1.1`) + uint32(i-numSwitches)
	}
	qp := make(map[[2]int]uint16)
	next := uint16(1)
	for r := 0; r < hosts; r++ {
		i := numSwitches + r
		qp[[2]int{i, g.Prevs(i)[0]}] = next
		next++
	}
	for i := 0; i < numSwitches; i++ {
		for _, f := range g.Prevs(i) {
			qp[[2]int{i, f}] = next
			next++
		}
		for _, c := range g.Nexts(i) {
			qp[[2]int{i, c}] = next
			next++
		}
	}
	endpoint := func(from, to int) Endpoint {
		return Endpoint{IPv4: nodeIP(from), QP: qp[[2]int{from, to}]}
	}
	tc := &TopoConfig{
		Group:   group,
		FanIn:   2,
		Array:   array,
		Window:  window,
		Packets: packets,
		Fill:    fill,
		Op:      op.String(),
	}
	for i := 0; i < numSwitches; i++ {
		var sc SwitchConfig
		for _, f := range g.Prevs(i) {
			l := LinkSpec{Local: endpoint(i, f), Peer: endpoint(f, i), ToChild: false}
			sc.Links = append(sc.Links, l.String())
		}
		for _, c := range g.Nexts(i) {
			l := LinkSpec{Local: endpoint(i, c), Peer: endpoint(c, i), ToChild: true}
			sc.Links = append(sc.Links, l.String())
		}
		tc.Switches = append(tc.Switches, sc)
	}
	for r := 0; r < hosts; r++ {
		i := numSwitches + r
		f := g.Prevs(i)[0]
		tc.Hosts = append(tc.Hosts, HostConfig{
			Local:  endpoint(i, f).String(),
			Switch: endpoint(f, i).String(),
		})
	}
	return tc, nil
}
