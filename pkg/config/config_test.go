package config

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr == "" || cfg.StepdPath == "" || cfg.Fanout == 0 {
		t.Fatalf("Default() left required fields empty: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskd.yaml")
	yamlDoc := "node_id: node07\nprolog_path: /usr/local/sbin/prolog\nkill_wait_seconds: 45\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "node07" {
		t.Fatalf("got node_id %q, want node07", cfg.NodeID)
	}
	if cfg.PrologPath != "/usr/local/sbin/prolog" {
		t.Fatalf("got prolog_path %q", cfg.PrologPath)
	}
	if cfg.KillWaitSeconds != 45 {
		t.Fatalf("got kill_wait_seconds %d, want 45", cfg.KillWaitSeconds)
	}
	// fields absent from the file keep Default()'s values
	if cfg.StepdPath != Default().StepdPath {
		t.Fatalf("expected unset stepd_path to keep the default, got %q", cfg.StepdPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error reading a missing config file")
	}
}

func TestWatchSIGHUPReloadsHotFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskd.yaml")
	initial := "prolog_path: /sbin/prolog-v1\n"
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	seen := make(chan Hot, 2)
	r := WatchSIGHUP(path, cfg, func(h Hot) { seen <- h })
	defer r.Stop()

	select {
	case h := <-seen:
		if h.PrologPath != "/sbin/prolog-v1" {
			t.Fatalf("initial callback got %+v", h)
		}
	case <-time.After(time.Second):
		t.Fatal("expected WatchSIGHUP to call onReload synchronously on start")
	}

	updated := "prolog_path: /sbin/prolog-v2\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := syscall.Kill(os.Getpid(), syscall.SIGHUP); err != nil {
		t.Fatalf("send SIGHUP: %v", err)
	}

	select {
	case h := <-seen:
		if h.PrologPath != "/sbin/prolog-v2" {
			t.Fatalf("reload callback got %+v, want /sbin/prolog-v2", h)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SIGHUP reload")
	}
}
