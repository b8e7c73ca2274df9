package supervisor

import (
	"os/exec"
	"testing"
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

func TestReaperBatchesExitsByStatus(t *testing.T) {
	var tasks []*types.Task
	var cmds []*exec.Cmd

	spawn := func(globalID uint32, args ...string) {
		cmd := exec.Command("/bin/sh", args...)
		if err := cmd.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		cmds = append(cmds, cmd)
		tasks = append(tasks, &types.Task{LocalID: len(tasks), GlobalID: globalID, PID: cmd.Process.Pid, State: types.TaskRunning})
	}

	spawn(1, "-c", "exit 0")
	spawn(2, "-c", "exit 0")
	spawn(3, "-c", "exit 7")

	r := NewReaper(tasks, 100, 0, 1)
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	groups := map[int][]uint32{}
	for batch := range r.Batches() {
		groups[batch.Status.Code] = append(groups[batch.Status.Code], batch.GlobalIDs...)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reaper never finished")
	}

	if len(groups[0]) != 2 {
		t.Fatalf("expected 2 tasks exiting 0, got %v", groups[0])
	}
	if len(groups[7]) != 1 {
		t.Fatalf("expected 1 task exiting 7, got %v", groups[7])
	}
}

func TestPostReapDelayDeterministic(t *testing.T) {
	a := postReapDelay(42, 3, 200)
	b := postReapDelay(42, 3, 200)
	if a != b {
		t.Fatalf("expected deterministic delay, got %v and %v", a, b)
	}
	c := postReapDelay(42, 4, 200)
	if a == c {
		t.Logf("delays happened to collide for different node ids: %v", a)
	}
	if a < 0 || a >= time.Duration(3*200)*time.Millisecond {
		t.Fatalf("delay out of expected range: %v", a)
	}
}

func TestPostReapDelayScalesWithNodeCount(t *testing.T) {
	small := postReapDelay(1, 1, 10)
	if small >= time.Duration(3*10)*time.Millisecond {
		t.Fatalf("small-nodeCount delay exceeded its bound: %v", small)
	}
	large := postReapDelay(1, 1, 1000)
	if large >= time.Duration(3*1000)*time.Millisecond {
		t.Fatalf("large-nodeCount delay exceeded its bound: %v", large)
	}
	if d := postReapDelay(1, 1, 0); d != 0 {
		t.Fatalf("zero nodeCount should fall back to a zero-width bound, got %v", d)
	}
}
