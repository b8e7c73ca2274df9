package tree

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

// RangeMessage is one step-complete message: a contiguous range of
// descendant ranks, all of whose step return codes have been merged into
// StepRC via types.Merge.
type RangeMessage struct {
	First, Last int
	StepRC      int
}

// Aggregator collects step-complete reports from a node's direct
// children in the reverse tree (§5(iv)): a mutex guards the bitmap, a
// condition variable wakes the waiting goroutine as bits arrive. No
// other goroutine within the step-agent writes to the bitmap.
type Aggregator struct {
	overlay Overlay

	mu       sync.Mutex
	cond     *sync.Cond
	reported map[int]bool // child rank -> reported
	rc       map[int]int  // child rank -> merged rc for that child's subtree
}

// NewAggregator creates an aggregator for overlay, ready to receive
// step-complete reports from each of overlay.Children.
func NewAggregator(overlay Overlay) *Aggregator {
	a := &Aggregator{
		overlay:  overlay,
		reported: make(map[int]bool, len(overlay.Children)),
		rc:       make(map[int]int, len(overlay.Children)),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Report records a step-complete arrival from childRank with the given
// subtree return code, and wakes any goroutine blocked in Wait. A second
// report for the same child is folded into its rc with types.Merge.
func (a *Aggregator) Report(childRank, rc int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reported[childRank] = true
	if existing, ok := a.rc[childRank]; ok {
		a.rc[childRank] = types.Merge(existing, rc)
	} else {
		a.rc[childRank] = rc
	}
	a.cond.Broadcast()
}

// complete reports whether every direct child has reported.
func (a *Aggregator) complete() bool {
	for _, c := range a.overlay.Children {
		if !a.reported[c] {
			return false
		}
	}
	return true
}

// Wait blocks until every direct child has reported or timeout elapses
// (whichever first), per "3 × (max_depth − depth) seconds plus a fixed
// base timeout". Callers pass the already-computed timeout. Returns
// whether every child reported before the deadline.
func (a *Aggregator) Wait(timeout time.Duration) (allReported bool) {
	if len(a.overlay.Children) == 0 {
		return true
	}

	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for !a.complete() {
			waitUntil := time.Until(deadline)
			if waitUntil <= 0 {
				return
			}
			// sync.Cond has no timed wait; a timer goroutine broadcasts
			// on expiry so Wait still returns promptly at the deadline.
			timer := time.AfterFunc(waitUntil, func() {
				a.mu.Lock()
				a.cond.Broadcast()
				a.mu.Unlock()
			})
			a.cond.Wait()
			timer.Stop()
			select {
			case <-stop:
				return
			default:
			}
		}
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout + 50*time.Millisecond):
		a.mu.Lock()
		complete := a.complete()
		a.mu.Unlock()
		return complete
	}
}

// RangeMessages collapses the reported children (plus this node's own
// rank, always included with ownRC) into contiguous range messages, per
// §4.3: "Gaps in the bitmap produce additional range messages." Missing
// (timed-out) children are reported as single-rank messages with
// types.NoVal, marking that subtree unknown.
func (a *Aggregator) RangeMessages(ownRank int, ownRC int) []RangeMessage {
	a.mu.Lock()
	defer a.mu.Unlock()

	type entry struct {
		rank int
		rc   int
	}
	entries := []entry{{rank: ownRank, rc: ownRC}}
	for _, c := range a.overlay.Children {
		if a.reported[c] {
			entries = append(entries, entry{rank: c, rc: a.rc[c]})
		} else {
			entries = append(entries, entry{rank: c, rc: types.NoVal})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rank < entries[j].rank })

	var msgs []RangeMessage
	for _, e := range entries {
		if len(msgs) > 0 {
			last := &msgs[len(msgs)-1]
			if e.rank == last.Last+1 && e.rc == last.StepRC {
				last.Last = e.rank
				continue
			}
		}
		msgs = append(msgs, RangeMessage{First: e.rank, Last: e.rank, StepRC: e.rc})
	}
	return msgs
}
