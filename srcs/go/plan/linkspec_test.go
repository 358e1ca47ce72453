package plan

import "testing"

func Test_ParseLinkSpec(t *testing.T) {
	l, err := ParseLinkSpec(`10.0.0.1:3:10.0.1.1:1:child`)
	if err != nil {
		t.Fatalf("ParseLinkSpec: %v", err)
	}
	if !l.ToChild {
		t.Errorf("link should face a son")
	}
	if got := l.String(); got != `10.0.0.1:3:10.0.1.1:1:child` {
		t.Errorf("got %s", got)
	}
	for _, bad := range []string{
		``,
		`10.0.0.1:3:10.0.1.1:1`,
		`10.0.0.1:3:10.0.1.1:1:up`,
		`10.0.0.1:x:10.0.1.1:1:child`,
	} {
		if _, err := ParseLinkSpec(bad); err == nil {
			t.Errorf("ParseLinkSpec(%q) should fail", bad)
		}
	}
}

func Test_ParseLinkList(t *testing.T) {
	ll, err := ParseLinkList(`10.0.0.1:3:10.0.1.1:1:child,10.0.0.1:4:10.0.1.2:2:child`)
	if err != nil {
		t.Fatalf("ParseLinkList: %v", err)
	}
	if len(ll) != 2 {
		t.Fatalf("got %d links, want 2", len(ll))
	}
	if got := ll.String(); got != `10.0.0.1:3:10.0.1.1:1:child,10.0.0.1:4:10.0.1.2:2:child` {
		t.Errorf("got %s", got)
	}
}

func Test_ParseHostList(t *testing.T) {
	hl, err := ParseHostList(`192.168.1.11:4,192.168.1.12:4:147.102.1.1`)
	if err != nil {
		t.Fatalf("ParseHostList: %v", err)
	}
	if got, want := hl.Cap(), 8; got != want {
		t.Errorf("got cap %d, want %d", got, want)
	}
	if got, want := hl[1].PublicAddr, `147.102.1.1`; got != want {
		t.Errorf("got public addr %s, want %s", got, want)
	}
	pl, err := hl.GenPeerList(6, PortRange{Begin: 9000, End: 9100})
	if err != nil {
		t.Fatalf("GenPeerList: %v", err)
	}
	if len(pl) != 6 {
		t.Errorf("got %d peers, want 6", len(pl))
	}
	if got, want := len(pl.On(MustParseIPv4(`192.168.1.11`))), 4; got != want {
		t.Errorf("got %d peers on first host, want %d", got, want)
	}
	if _, err := hl.GenPeerList(9, DefaultPortRange); err == nil {
		t.Errorf("over capacity should fail")
	}
}
