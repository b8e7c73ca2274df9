// Package credential validates the signed capability a controller attaches
// to every launch-class RPC ("bearer may run step (job-id, step-id) on
// these hosts as user uid"), and tracks revocations so a credential can be
// invalidated mid-flight by a concurrent terminate_job.
package credential

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/taskd/pkg/types"
)

var (
	// ErrExpired means the credential's expiration time has passed.
	ErrExpired = errors.New("credential: expired")
	// ErrRevoked means the credential's (jobid, stepid) was explicitly revoked.
	ErrRevoked = errors.New("credential: revoked")
	// ErrSignatureInvalid means the signature does not verify against the
	// configured public key for the encoded payload.
	ErrSignatureInvalid = errors.New("credential: signature invalid")
	// ErrHostNotAuthorized means the calling node is not in the credential's host list.
	ErrHostNotAuthorized = errors.New("credential: host not authorized")
	// ErrMismatch means the credential's own (JobID, StepID, UID) does not
	// match the RPC envelope it was presented alongside: a credential
	// signed for one job cannot be used to authorize a different one just
	// by changing the envelope's top-level fields (§4.2 step 2).
	ErrMismatch = errors.New("credential: does not match requested job/step/uid")
)

// Assertion is the RPC envelope's own claim about the job/step/uid a
// credential is being presented for, plus whether the caller is already
// authorized independent of the credential (the super-user or the
// node-agent's configured service uid). Verify checks the credential's
// embedded identity against this claim rather than trusting the
// envelope on its own.
type Assertion struct {
	JobID  uint32
	StepID uint32
	UID    uint32
	// AuthorizedCaller, when true, downgrades a signature failure to a
	// pass (§4.2 step 1: "an authorized caller's request succeeds even if
	// the signature does not verify"). It never waives the job/step/uid
	// match, expiration, revocation, or host-list checks.
	AuthorizedCaller bool
}

// Validator verifies credential signatures and consults the revocation
// table. One Validator is shared by a node-agent's dispatcher.
type Validator struct {
	publicKey ed25519.PublicKey
	revoked   *RevocationTable
}

// NewValidator creates a validator that checks signatures against
// publicKey and revocations against table.
func NewValidator(publicKey ed25519.PublicKey, table *RevocationTable) *Validator {
	return &Validator{publicKey: publicKey, revoked: table}
}

// SignaturePayload returns the canonical byte encoding a controller signs
// to produce types.Credential.Signature. Kept deterministic and minimal
// (no JSON) so both signer and verifier agree byte-for-byte.
func SignaturePayload(c *types.Credential) []byte {
	buf := make([]byte, 0, 64+len(c.HostList))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], c.JobID)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], c.StepID)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], c.UID)
	buf = append(buf, tmp[:]...)
	buf = append(buf, []byte(c.HostList)...)
	exp := c.Expiration.UTC().Unix()
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], uint64(exp))
	buf = append(buf, tmp8[:]...)
	return buf
}

// Sign produces a credential's signature using a controller's private key.
// Exercised by tests to construct valid credentials end to end; real
// controllers sign out of process, but this repository's dispatcher-side
// tests need a way to mint credentials that verify.
func Sign(c *types.Credential, priv ed25519.PrivateKey) []byte {
	return ed25519.Sign(priv, SignaturePayload(c))
}

// Verify checks a credential's signature, that it actually authorizes
// the (job, step, uid) the caller asserts, expiration, revocation
// status, and that hostname is a member of its host list. Order matches
// §4.2: signature first (downgradable to a pass for an authorized
// caller), then the job/step/uid assertion match, then expiration, then
// revocation, then host membership, so the most informative error wins
// when several apply.
func (v *Validator) Verify(c *types.Credential, hostname string, a Assertion) error {
	if !ed25519.Verify(v.publicKey, SignaturePayload(c), c.Signature) && !a.AuthorizedCaller {
		return ErrSignatureInvalid
	}
	if c.JobID != a.JobID || c.StepID != a.StepID || c.UID != a.UID {
		return ErrMismatch
	}
	if !c.Expiration.IsZero() && time.Now().After(c.Expiration) {
		return ErrExpired
	}
	if v.revoked != nil {
		revoked, err := v.revoked.IsRevoked(c.JobID, c.StepID)
		if err != nil {
			return fmt.Errorf("credential: revocation lookup: %w", err)
		}
		if revoked {
			return ErrRevoked
		}
	}
	rank, err := HostRank(c.HostList, hostname)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if rank < 0 {
		return ErrHostNotAuthorized
	}
	return nil
}
