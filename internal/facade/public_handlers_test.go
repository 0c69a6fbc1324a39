package facade

import (
	"net"
	"testing"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("could not parse IP %q", s)
	}
	return ip
}

func TestFilterPublicMultiaddrs_DropsLoopbackAndPrivate(t *testing.T) {
	in := []string{
		"/ip4/127.0.0.1/tcp/4001",
		"/ip4/192.168.1.5/tcp/4001",
		"/ip4/10.0.0.2/tcp/4001",
		"/ip4/203.0.113.9/tcp/4001/p2p/QmPeerID",
		"/ip6/::1/tcp/4001",
	}

	out := filterPublicMultiaddrs(in)

	if len(out) != 1 {
		t.Fatalf("expected exactly one public multiaddr, got %d: %v", len(out), out)
	}
	if out[0] != "/ip4/203.0.113.9/tcp/4001/p2p/QmPeerID" {
		t.Fatalf("unexpected surviving multiaddr: %s", out[0])
	}
}

func TestMultiaddrHost(t *testing.T) {
	cases := map[string]string{
		"/ip4/203.0.113.9/tcp/4001":  "203.0.113.9",
		"/ip6/2001:db8::1/tcp/4001":  "2001:db8::1",
		"/dns4/example.com/tcp/4001": "",
		"":                           "",
	}
	for addr, want := range cases {
		got := multiaddrHost(addr)
		if got != want {
			t.Errorf("multiaddrHost(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestIsPrivateIPRanges(t *testing.T) {
	cases := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.5.5", true},
		{"172.31.255.255", true},
		{"192.168.0.1", true},
		{"8.8.8.8", false},
		{"203.0.113.9", false},
	}
	for _, c := range cases {
		got := isPrivateIP(mustParseIP(t, c.ip))
		if got != c.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", c.ip, got, c.private)
		}
	}
}
