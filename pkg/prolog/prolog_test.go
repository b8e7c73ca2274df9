package prolog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunEmptyPathSucceedsWithoutRunning(t *testing.T) {
	r := NewRunner(nil)
	res, err := r.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Ran {
		t.Fatal("expected Ran == false for an empty path")
	}
}

func TestRunSuccessfulScript(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "ok.sh", "#!/bin/sh\nexit 0\n")

	r := NewRunner(nil)
	res, err := r.Run(context.Background(), Request{
		Path: path, JobID: 1,
		UID: uint32(os.Getuid()), GID: uint32(os.Getgid()),
		Groups: []uint32{uint32(os.Getgid())},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ran || res.ExitCode != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunReportsNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "fail.sh", "#!/bin/sh\nexit 7\n")

	r := NewRunner(nil)
	res, err := r.Run(context.Background(), Request{
		Path: path, UID: uint32(os.Getuid()), GID: uint32(os.Getgid()),
		Groups: []uint32{uint32(os.Getgid())},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("got exit code %d, want 7", res.ExitCode)
	}
}

func TestRunEscalatesToKillOnTimeout(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "slow.sh", "#!/bin/sh\nsleep 30\n")

	r := NewRunner(nil)
	start := time.Now()
	res, err := r.Run(context.Background(), Request{
		Path: path, UID: uint32(os.Getuid()), GID: uint32(os.Getgid()),
		Groups:  []uint32{uint32(os.Getgid())},
		MaxWait: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected the script to be reported as timed out")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("kill escalation took too long: %s", time.Since(start))
	}
}

func TestRunMissingScript(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Run(context.Background(), Request{Path: "/nonexistent/path/to/script"})
	if err == nil {
		t.Fatal("expected an error for a missing script")
	}
}
