package sim

import (
	"testing"
	"time"

	"github.com/Qccccc512/incnet/srcs/go/event"
	"github.com/Qccccc512/incnet/srcs/go/plan"
)

func addr(host string, port uint16) plan.NetAddr {
	return plan.NetAddr{IPv4: plan.MustParseIPv4(host), Port: port}
}

func Test_NetDelivery(t *testing.T) {
	loop := event.NewLoop()
	n := NewNet(loop, time.Millisecond, 0, 1)
	a := addr(`10.0.0.1`, 9)
	b := addr(`10.0.0.2`, 9)
	var got []byte
	var from plan.NetAddr
	if _, err := n.Listen(b, func(src plan.NetAddr, p []byte) {
		from = src
		got = append([]byte(nil), p...)
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	msg := []byte{1, 2, 3}
	if err := n.SendTo(a, b, msg); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	msg[0] = 9
	loop.Run()
	if from != a {
		t.Errorf("got src %s, want %s", from, a)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("payload not copied at send time: %v", got)
	}
	if n.Delivered() != 1 {
		t.Errorf("got %d delivered, want 1", n.Delivered())
	}
	if _, err := n.Listen(b, nil); err == nil {
		t.Errorf("double listen should fail")
	}
}

func Test_NetOrderPreserved(t *testing.T) {
	loop := event.NewLoop()
	n := NewNet(loop, time.Millisecond, 0, 1)
	a := addr(`10.0.0.1`, 1025)
	b := addr(`10.0.0.2`, 9)
	var got []byte
	n.Listen(b, func(src plan.NetAddr, p []byte) { got = append(got, p[0]) })
	send, closer, err := n.Open(a)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closer.Close()
	for i := byte(0); i < 10; i++ {
		send(b, []byte{i})
	}
	loop.Run()
	for i := byte(0); i < 10; i++ {
		if got[i] != i {
			t.Fatalf("got %v, want in-order delivery", got)
		}
	}
	if _, _, err := n.Open(a); err == nil {
		t.Errorf("double open should fail")
	}
}

func Test_NetLoss(t *testing.T) {
	loop := event.NewLoop()
	n := NewNet(loop, time.Millisecond, 0.5, 42)
	a := addr(`10.0.0.1`, 9)
	b := addr(`10.0.0.2`, 9)
	n.Listen(b, func(src plan.NetAddr, p []byte) {})
	const total = 1000
	for i := 0; i < total; i++ {
		n.SendTo(a, b, []byte{0})
	}
	loop.Run()
	if n.Delivered()+n.Dropped() != total {
		t.Fatalf("delivered %d + dropped %d != %d", n.Delivered(), n.Dropped(), total)
	}
	if n.Dropped() < total/4 || n.Dropped() > 3*total/4 {
		t.Errorf("got %d drops out of %d at loss 0.5", n.Dropped(), total)
	}
}

func Test_NetSetDown(t *testing.T) {
	loop := event.NewLoop()
	n := NewNet(loop, time.Millisecond, 0, 1)
	a := addr(`10.0.0.1`, 9)
	b := addr(`10.0.0.2`, 9)
	var got int
	n.Listen(b, func(src plan.NetAddr, p []byte) { got++ })

	n.SendTo(a, b, []byte{0})
	n.SetDown(b.IPv4, true)
	n.SendTo(a, b, []byte{0})
	loop.Run()
	if got != 0 {
		t.Errorf("got %d deliveries to a down node", got)
	}

	n.SetDown(b.IPv4, false)
	n.SendTo(a, b, []byte{0})
	loop.Run()
	if got != 1 {
		t.Errorf("got %d deliveries after revival, want 1", got)
	}
}

func Test_NetJitterReorders(t *testing.T) {
	loop := event.NewLoop()
	n := NewNet(loop, time.Millisecond, 0, 7)
	n.SetJitter(10 * time.Millisecond)
	a := addr(`10.0.0.1`, 9)
	b := addr(`10.0.0.2`, 9)
	var got []byte
	n.Listen(b, func(src plan.NetAddr, p []byte) { got = append(got, p[0]) })
	const total = 64
	for i := byte(0); i < total; i++ {
		n.SendTo(a, b, []byte{i})
	}
	loop.Run()
	if len(got) != total {
		t.Fatalf("got %d deliveries, want %d", len(got), total)
	}
	inOrder := true
	for i := 1; i < total; i++ {
		if got[i] < got[i-1] {
			inOrder = false
		}
	}
	if inOrder {
		t.Errorf("jitter should reorder some deliveries")
	}
}
