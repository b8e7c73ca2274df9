// Package plugin declares the narrow capability-provider interfaces a
// site can implement to integrate a real interconnect, accounting
// system, checkpoint backend, or credential signer (§3 EXPANSION). Every
// interface ships a no-op default so the rest of the core has a
// concrete collaborator to call even when no backend is configured.
package plugin

import (
	"context"
	"time"

	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/types"
)

// Switch models the interconnect/switch plugin: per-job setup and
// teardown of whatever fabric resources (e.g. an InfiniBand partition
// key) a step's launch requires, plus a snapshot attached to
// epilog_complete.
type Switch interface {
	Init(ctx context.Context, jobID uint32, step *types.StepImmutable) (handle string, err error)
	Fini(ctx context.Context, jobID uint32, handle string) error
	// Snapshot returns the switch-state payload epilog_complete attaches.
	Snapshot(ctx context.Context, jobID uint32, handle string) ([]byte, error)
}

// NoopSwitch logs and returns zero values; used when no switch plugin is configured.
type NoopSwitch struct{}

func (NoopSwitch) Init(ctx context.Context, jobID uint32, step *types.StepImmutable) (string, error) {
	log.WithComponent("plugin.switch").Debug().Uint32("job_id", jobID).Msg("noop switch init")
	return "", nil
}

func (NoopSwitch) Fini(ctx context.Context, jobID uint32, handle string) error {
	log.WithComponent("plugin.switch").Debug().Uint32("job_id", jobID).Msg("noop switch fini")
	return nil
}

func (NoopSwitch) Snapshot(ctx context.Context, jobID uint32, handle string) ([]byte, error) {
	return nil, nil
}

// Accounting models the job accounting plugin: periodic and final
// reporting of a step's resource counters.
type Accounting interface {
	Report(ctx context.Context, step types.StepID, counters types.AccountingCounters) error
}

// NoopAccounting discards every report.
type NoopAccounting struct{}

func (NoopAccounting) Report(ctx context.Context, step types.StepID, counters types.AccountingCounters) error {
	log.WithComponent("plugin.accounting").Debug().Str("step", step.String()).Msg("noop accounting report")
	return nil
}

// Session models the PAM-session plugin (§4.4 step 4): opening and
// closing a login session for a step's user against the step's node
// hostname, the way a site's pam_slurm-equivalent module would, so
// site-configured PAM stacks (limits, cgroup placement, auditing) run
// for every launched step rather than only for interactive logins.
type Session interface {
	Open(ctx context.Context, uid uint32, hostname string) (handle string, err error)
	Close(ctx context.Context, handle string) error
}

// NoopSession logs and returns an empty handle; used when no PAM binding
// is configured. No PAM binding exists anywhere in this repository's
// dependency set, so this ships as a narrow capability provider
// alongside Switch/Accounting/Checkpoint rather than a hand-rolled
// libpam cgo binding.
type NoopSession struct{}

func (NoopSession) Open(ctx context.Context, uid uint32, hostname string) (string, error) {
	log.WithComponent("plugin.session").Debug().Uint32("uid", uid).Str("host", hostname).Msg("noop pam session open")
	return "", nil
}

func (NoopSession) Close(ctx context.Context, handle string) error {
	log.WithComponent("plugin.session").Debug().Msg("noop pam session close")
	return nil
}

// Checkpoint models the checkpoint/restart plugin for a running step.
type Checkpoint interface {
	Checkpoint(ctx context.Context, step types.StepID, targetDir string) error
	Restart(ctx context.Context, step types.StepID, sourceDir string) error
}

// NoopCheckpoint reports checkpoint/restart as unsupported.
type NoopCheckpoint struct{}

func (NoopCheckpoint) Checkpoint(ctx context.Context, step types.StepID, targetDir string) error {
	return errUnsupported("checkpoint")
}

func (NoopCheckpoint) Restart(ctx context.Context, step types.StepID, sourceDir string) error {
	return errUnsupported("restart")
}

// CredentialSigner models the auth/credential-signing plugin; the
// default expects keys to already be provisioned via node-agent config
// (pkg/credential), so it only reports its configured key's age.
type CredentialSigner interface {
	KeyAge(ctx context.Context) (time.Duration, error)
}

// NoopCredentialSigner always reports a zero key age.
type NoopCredentialSigner struct{}

func (NoopCredentialSigner) KeyAge(ctx context.Context) (time.Duration, error) { return 0, nil }

// MPI models the MPI launch-plugin hook: per-task environment
// augmentation for a given MPI flavor (e.g. PMI rendezvous variables).
type MPI interface {
	TaskEnv(step *types.StepImmutable, localRank int) ([]string, error)
}

// NoopMPI adds no environment variables.
type NoopMPI struct{}

func (NoopMPI) TaskEnv(step *types.StepImmutable, localRank int) ([]string, error) { return nil, nil }

type unsupportedError string

func (e unsupportedError) Error() string { return "plugin: " + string(e) + " not supported" }

func errUnsupported(op string) error { return unsupportedError(op) }
