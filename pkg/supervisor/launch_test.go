package supervisor

import (
	"testing"
)

func TestParseCgroupV2Path(t *testing.T) {
	lines := []string{
		"12:cpuset:/",
		"0::/system.slice/taskd-step-100.0.scope",
	}
	path, ok := parseCgroupV2Path(lines)
	if !ok {
		t.Fatal("expected a unified-hierarchy entry")
	}
	if path != "/sys/fs/cgroup/system.slice/taskd-step-100.0.scope" {
		t.Fatalf("unexpected path: %s", path)
	}
}

func TestParseCgroupV2PathMissing(t *testing.T) {
	lines := []string{"4:memory:/foo", "7:pids:/bar"}
	if _, ok := parseCgroupV2Path(lines); ok {
		t.Fatal("expected no unified-hierarchy entry to be found")
	}
}

func TestHandleKillNoopWithoutPgid(t *testing.T) {
	h := &Handle{}
	if err := h.Kill(0); err != nil {
		t.Fatalf("expected nil error for unset pgid, got %v", err)
	}
}
