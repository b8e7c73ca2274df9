package supervisor

import (
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/types"
)

// ExitBatch is one or more task exits that share the same terminal
// status, coalesced so the step-agent reports a single message upstream
// instead of one per task (§4.4's exit-batching requirement).
type ExitBatch struct {
	GlobalIDs []uint32
	Status    types.ExitStatus
}

// Reaper waits for a step's forked tasks to exit and batches same-status
// exits together. One Reaper per in-flight step.
type Reaper struct {
	mu      sync.Mutex
	pending map[int]*types.Task // pid -> task, tasks not yet reaped
	batches chan ExitBatch

	jobID, nodeID uint32
	nodeCount     int
}

// NewReaper builds a Reaper for a step's tasks. nodeCount and (jobID,
// nodeID) seed the post-reap randomized delay used on large node counts
// (§4.4) so many nodes of the same job don't all report back in lockstep.
func NewReaper(tasks []*types.Task, jobID, nodeID uint32, nodeCount int) *Reaper {
	pending := make(map[int]*types.Task, len(tasks))
	for _, t := range tasks {
		pending[t.PID] = t
	}
	return &Reaper{
		pending:   pending,
		batches:   make(chan ExitBatch, len(tasks)),
		jobID:     jobID,
		nodeID:    nodeID,
		nodeCount: nodeCount,
	}
}

// Batches returns the channel exit batches are published on. Closed once
// every task has been reaped.
func (r *Reaper) Batches() <-chan ExitBatch { return r.batches }

// Run blocks reaping this step's tasks until all of them have exited,
// publishing a batch each time a group of equal-status exits accumulates.
// It mixes a blocking wait4 (to avoid busy-polling while tasks run) with
// non-blocking WNOHANG drains (to coalesce exits that land close together
// into one batch) the way §4.4 specifies.
func (r *Reaper) Run() {
	defer close(r.batches)

	grouped := make(map[types.ExitStatus][]uint32)

	flush := func() {
		if len(grouped) == 0 {
			return
		}
		if r.nodeCount > 100 {
			time.Sleep(postReapDelay(r.jobID, r.nodeID, r.nodeCount))
		}
		for status, ids := range grouped {
			r.batches <- ExitBatch{GlobalIDs: ids, Status: status}
		}
		grouped = make(map[types.ExitStatus][]uint32)
	}

	for {
		r.mu.Lock()
		remaining := len(r.pending)
		r.mu.Unlock()
		if remaining == 0 {
			flush()
			return
		}

		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			// nothing left of ours to wait for; reconcile and exit
			r.mu.Lock()
			for pid, t := range r.pending {
				grouped[t.Status] = append(grouped[t.Status], t.GlobalID)
				delete(r.pending, pid)
			}
			r.mu.Unlock()
			flush()
			return
		}
		if err != nil {
			log.WithComponent("supervisor").Error().Err(err).Msg("wait4 failed")
			continue
		}
		r.record(pid, ws, grouped)

		// drain any siblings that exited around the same time without
		// blocking again, so they land in this batch instead of their own.
		for {
			pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
			if err != nil || pid <= 0 {
				break
			}
			r.record(pid, ws, grouped)
		}

		flush()
	}
}

func (r *Reaper) record(pid int, ws unix.WaitStatus, grouped map[types.ExitStatus][]uint32) {
	r.mu.Lock()
	t, ok := r.pending[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, pid)
	r.mu.Unlock()

	status := statusFromWait(ws)
	t.Exited = true
	t.Status = status
	t.State = types.TaskDone
	grouped[status] = append(grouped[status], t.GlobalID)
}

func statusFromWait(ws unix.WaitStatus) types.ExitStatus {
	switch {
	case ws.Exited():
		return types.ExitStatus{Exited: true, Code: ws.ExitStatus()}
	case ws.Signaled():
		return types.ExitStatus{Signaled: true, Signal: int(ws.Signal()), Core: ws.CoreDump()}
	default:
		return types.ExitStatus{}
	}
}

// postReapDelay returns a short, deterministically seeded delay so that
// many nodes of the same large job don't all report a step's completion
// back to the controller in the same instant (§4.4: "nnodes > 100"),
// bounded by 3*nodeCount milliseconds so the stagger scales with the
// size of the job it's spreading out. Seeded from (jobID, nodeID) rather
// than the clock so the same node always staggers the same way for a
// given job, which keeps test runs reproducible.
func postReapDelay(jobID, nodeID uint32, nodeCount int) time.Duration {
	bound := 3 * nodeCount
	if bound <= 0 {
		bound = 1
	}
	h := fnv.New32a()
	var buf [8]byte
	buf[0] = byte(jobID)
	buf[1] = byte(jobID >> 8)
	buf[2] = byte(jobID >> 16)
	buf[3] = byte(jobID >> 24)
	buf[4] = byte(nodeID)
	buf[5] = byte(nodeID >> 8)
	buf[6] = byte(nodeID >> 16)
	buf[7] = byte(nodeID >> 24)
	_, _ = h.Write(buf[:])
	spreadMillis := time.Duration(h.Sum32()%uint32(bound)) * time.Millisecond
	return spreadMillis
}
