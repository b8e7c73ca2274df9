package tree

import (
	"testing"
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

func TestAggregatorNoChildrenCompletesImmediately(t *testing.T) {
	overlay := Compute(0, 1, 4)
	agg := NewAggregator(overlay)

	if !agg.Wait(time.Millisecond) {
		t.Fatal("leaf aggregator with no children must not wait")
	}

	msgs := agg.RangeMessages(0, 0)
	if len(msgs) != 1 || msgs[0].First != 0 || msgs[0].Last != 0 || msgs[0].StepRC != 0 {
		t.Fatalf("unexpected range messages: %+v", msgs)
	}
}

func TestAggregatorCollectsChildren(t *testing.T) {
	overlay := Compute(0, 4, 4) // children 1,2,3
	agg := NewAggregator(overlay)

	go func() {
		agg.Report(1, 0)
		agg.Report(2, 0)
		agg.Report(3, 0)
	}()

	if !agg.Wait(time.Second) {
		t.Fatal("expected all children to report within timeout")
	}

	msgs := agg.RangeMessages(0, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected a single contiguous range, got %+v", msgs)
	}
	if msgs[0].First != 0 || msgs[0].Last != 3 {
		t.Fatalf("unexpected range bounds: %+v", msgs[0])
	}
}

func TestAggregatorGapsProduceMultipleRanges(t *testing.T) {
	overlay := Compute(0, 4, 4)
	agg := NewAggregator(overlay)

	agg.Report(1, 0)
	agg.Report(3, types.NoVal) // different rc: signaled task

	// rank 2 never reports (timed out).
	agg.Wait(50 * time.Millisecond)

	msgs := agg.RangeMessages(0, 0)
	if len(msgs) < 2 {
		t.Fatalf("expected gaps to split ranges, got %+v", msgs)
	}
}

func TestAggregatorMergeToNoVal(t *testing.T) {
	overlay := Compute(0, 2, 4)
	agg := NewAggregator(overlay)

	agg.Report(1, 0)
	agg.Report(1, types.NoVal)

	agg.mu.Lock()
	got := agg.rc[1]
	agg.mu.Unlock()

	if got != types.NoVal {
		t.Fatalf("merged rc = %d, want NoVal", got)
	}
}
