package monitor

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/plan"
)

func Test_netMetrics(t *testing.T) {
	var b bytes.Buffer
	var a plan.NetAddr
	nm := newNetMetrics()
	nm.Egress(3, a)
	nm.Ingress(2, a)
	nm.Record(`ack`)
	nm.Record(`ack`)
	nm.Record(`nak`)
	nm.WriteTo(&b)
	got := b.String()
	for _, want := range []string{
		`egress_total_bytes{peer="0.0.0.0:0"} 3`,
		`ingress_total_bytes{peer="0.0.0.0:0"} 2`,
		`records_total{class="ack"} 2`,
		`records_total{class="nak"} 1`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
	if n := nm.recordCounters.Get(`ack`); n != 2 {
		t.Errorf("got %d acks, want 2", n)
	}
}

func Test_rateUpdate(t *testing.T) {
	g := newRateAccumulatorGroup("egress")
	var a plan.NetAddr
	ra := g.getOrCreate(a)
	ra.a.Add(1024)
	g.update(time.Second)
	rates := g.GetRates([]plan.NetAddr{a})
	if rates[0] != 1024 {
		t.Errorf("got rate %f, want 1024", rates[0])
	}
}
