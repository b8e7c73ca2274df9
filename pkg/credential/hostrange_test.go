package credential

import "testing"

func TestExpandHostList(t *testing.T) {
	cases := []struct {
		expr string
		want []string
	}{
		{"node01", []string{"node01"}},
		{"node[01-04]", []string{"node01", "node02", "node03", "node04"}},
		{"node[01-04,06]", []string{"node01", "node02", "node03", "node04", "node06"}},
		{"", nil},
	}

	for _, tc := range cases {
		got, err := ExpandHostList(tc.expr)
		if err != nil {
			t.Fatalf("ExpandHostList(%q): %v", tc.expr, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("ExpandHostList(%q) = %v, want %v", tc.expr, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("ExpandHostList(%q)[%d] = %q, want %q", tc.expr, i, got[i], tc.want[i])
			}
		}
	}
}

func TestExpandHostListMalformed(t *testing.T) {
	if _, err := ExpandHostList("node[01-04"); err == nil {
		t.Fatal("expected error for missing closing bracket")
	}
	if _, err := ExpandHostList("node[04-01]"); err == nil {
		t.Fatal("expected error for descending range")
	}
}

func TestHostRank(t *testing.T) {
	rank, err := HostRank("node[01-04,06]", "node04")
	if err != nil {
		t.Fatal(err)
	}
	if rank != 3 {
		t.Fatalf("rank = %d, want 3", rank)
	}

	rank, err = HostRank("node[01-04,06]", "node99")
	if err != nil {
		t.Fatal(err)
	}
	if rank != -1 {
		t.Fatalf("rank = %d, want -1 for non-member", rank)
	}
}
