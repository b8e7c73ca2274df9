package supervisor

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTaskInitSpecRoundTrip(t *testing.T) {
	spec := TaskInitSpec{
		UID:       1000,
		GID:       1000,
		Groups:    []uint32{20, 27},
		WorkDir:   "/home/user",
		Argv:      []string{"/bin/true"},
		Env:       []string{"SLURM_JOBID=100"},
		ReleaseFD: 3,
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got TaskInitSpec
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.UID != spec.UID || len(got.Argv) != 1 || got.Argv[0] != "/bin/true" {
		t.Fatalf("got %+v, want %+v", got, spec)
	}
}

func TestRunTaskInitMissingEnv(t *testing.T) {
	t.Setenv(TaskInitEnv, "")
	if err := RunTaskInit(); err == nil {
		t.Fatal("expected an error when TASKD_TASK_INIT is unset")
	}
}

func TestExitCodeForMapsReservedCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{ErrIdentitySwitchFailed, ExitIdentitySwitchFailed},
		{ErrExecFailed, ExitExecFailed},
		{errors.New("other"), ExitSetupFailed},
	}
	for _, c := range cases {
		if got := ExitCodeFor(c.err); got != c.want {
			t.Errorf("ExitCodeFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
