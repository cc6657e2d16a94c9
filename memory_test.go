package memengine

import "testing"

func TestIsCurrentlyValid(t *testing.T) {
	m := Memory{}
	if !m.IsCurrentlyValid() {
		t.Fatal("expected nil ValidUntil to be currently valid")
	}
	until := int64(100)
	m.ValidUntil = &until
	if m.IsCurrentlyValid() {
		t.Fatal("expected set ValidUntil to not be currently valid")
	}
}

func TestValidAtRespectsHalfOpenInterval(t *testing.T) {
	until := int64(200)
	m := Memory{ValidFrom: 100, ValidUntil: &until}

	cases := []struct {
		t    int64
		want bool
	}{
		{50, false},
		{100, true},
		{150, true},
		{200, false},
		{250, false},
	}
	for _, c := range cases {
		if got := m.ValidAt(c.t); got != c.want {
			t.Errorf("ValidAt(%d) = %v, want %v", c.t, got, c.want)
		}
	}
}

func TestValidAtOpenEndedMemoryNeverExpires(t *testing.T) {
	m := Memory{ValidFrom: 100}
	if !m.ValidAt(1_000_000) {
		t.Fatal("expected an open-ended memory to remain valid far in the future")
	}
	if m.ValidAt(50) {
		t.Fatal("expected an open-ended memory to be invalid before its valid_from")
	}
}

func TestTypePrefixTakesFirstTwoTokens(t *testing.T) {
	cases := map[string]string{
		"proxmox_cluster_node_configuration": "proxmox_cluster",
		"home_network_router":                "home_network",
		"single":                             "single",
		"a_b":                                "a_b",
		"a_b_c_d":                            "a_b",
	}
	for in, want := range cases {
		if got := TypePrefix(in); got != want {
			t.Errorf("TypePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
