package plugin

import (
	"context"
	"testing"

	"github.com/cuemby/taskd/pkg/types"
)

func TestNoopDefaults(t *testing.T) {
	ctx := context.Background()

	var sw Switch = NoopSwitch{}
	handle, err := sw.Init(ctx, 1, &types.StepImmutable{})
	if err != nil || handle != "" {
		t.Fatalf("NoopSwitch.Init = (%q, %v), want (\"\", nil)", handle, err)
	}
	if err := sw.Fini(ctx, 1, handle); err != nil {
		t.Fatal(err)
	}

	var acct Accounting = NoopAccounting{}
	if err := acct.Report(ctx, types.StepID{JobID: 1}, types.AccountingCounters{}); err != nil {
		t.Fatal(err)
	}

	var ck Checkpoint = NoopCheckpoint{}
	if err := ck.Checkpoint(ctx, types.StepID{}, "/tmp"); err == nil {
		t.Fatal("expected noop checkpoint to report unsupported")
	}

	var mpi MPI = NoopMPI{}
	env, err := mpi.TaskEnv(&types.StepImmutable{}, 0)
	if err != nil || env != nil {
		t.Fatalf("NoopMPI.TaskEnv = (%v, %v), want (nil, nil)", env, err)
	}
}
