package credential

import (
	"crypto/ed25519"
	"os"
	"testing"
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

func newTestValidator(t *testing.T) (*Validator, ed25519.PrivateKey, *RevocationTable) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	dir, err := os.MkdirTemp("", "taskd-cred-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	table, err := OpenRevocationTable(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { table.Close() })

	return NewValidator(pub, table), priv, table
}

func signedCredential(priv ed25519.PrivateKey, jobID, stepID, uid uint32, hostList string, exp time.Time) *types.Credential {
	c := &types.Credential{
		JobID:      jobID,
		StepID:     stepID,
		UID:        uid,
		HostList:   hostList,
		Expiration: exp,
	}
	c.Signature = Sign(c, priv)
	return c
}

func assertionFor(c *types.Credential) Assertion {
	return Assertion{JobID: c.JobID, StepID: c.StepID, UID: c.UID}
}

func TestVerifyValid(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))

	if err := v.Verify(c, "node02", assertionFor(c)); err != nil {
		t.Fatalf("expected valid credential, got %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))
	c.JobID = 999 // mutate after signing

	if err := v.Verify(c, "node02", assertionFor(c)); err != ErrSignatureInvalid {
		t.Fatalf("err = %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifyBadSignatureDowngradedForAuthorizedCaller(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))
	c.JobID = 999 // mutate after signing; signature no longer verifies

	a := assertionFor(c)
	a.AuthorizedCaller = true
	if err := v.Verify(c, "node02", a); err != nil {
		t.Fatalf("expected an authorized caller's request to succeed despite the bad signature, got %v", err)
	}
}

func TestVerifyMismatchedAssertionRejected(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))

	// the envelope claims a different job than the credential was signed for
	a := Assertion{JobID: 101, StepID: c.StepID, UID: c.UID}
	if err := v.Verify(c, "node02", a); err != ErrMismatch {
		t.Fatalf("err = %v, want ErrMismatch", err)
	}
}

func TestVerifyMismatchNotWaivedForAuthorizedCaller(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))

	a := Assertion{JobID: 101, StepID: c.StepID, UID: c.UID, AuthorizedCaller: true}
	if err := v.Verify(c, "node02", a); err != ErrMismatch {
		t.Fatalf("err = %v, want ErrMismatch (authorized caller waives the signature check, not the job/step/uid match)", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(-time.Hour))

	if err := v.Verify(c, "node02", assertionFor(c)); err != ErrExpired {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestVerifyRevoked(t *testing.T) {
	v, priv, table := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))

	if err := table.Revoke(100, 0); err != nil {
		t.Fatal(err)
	}

	if err := v.Verify(c, "node02", assertionFor(c)); err != ErrRevoked {
		t.Fatalf("err = %v, want ErrRevoked", err)
	}
}

func TestVerifyHostNotAuthorized(t *testing.T) {
	v, priv, _ := newTestValidator(t)
	c := signedCredential(priv, 100, 0, 1000, "node[01-04]", time.Now().Add(time.Hour))

	if err := v.Verify(c, "node99", assertionFor(c)); err != ErrHostNotAuthorized {
		t.Fatalf("err = %v, want ErrHostNotAuthorized", err)
	}
}

func TestRevocationTableRestartRoundTrip(t *testing.T) {
	dir, err := os.MkdirTemp("", "taskd-cred-restart-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	table, err := OpenRevocationTable(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := table.Revoke(42, 3); err != nil {
		t.Fatal(err)
	}
	if err := table.Close(); err != nil {
		t.Fatal(err)
	}

	// simulate a node-agent restart: reopen against the same data directory
	reopened, err := OpenRevocationTable(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	revoked, err := reopened.IsRevoked(42, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Fatal("expected revocation to survive restart")
	}
}

func TestBeginExpiration(t *testing.T) {
	_, _, table := newTestValidator(t)

	before := time.Now()
	if err := table.Revoke(7, 1); err != nil {
		t.Fatal(err)
	}

	when, err := table.BeginExpiration(7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if when.Before(before.Add(-time.Second)) {
		t.Fatalf("begin_expiration time %v looks stale relative to %v", when, before)
	}
}
