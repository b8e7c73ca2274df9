package stepagent

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/taskd/pkg/capability"
	"github.com/cuemby/taskd/pkg/config"
	"github.com/cuemby/taskd/pkg/credential"
	"github.com/cuemby/taskd/pkg/dispatcher"
	"github.com/cuemby/taskd/pkg/identity"
	"github.com/cuemby/taskd/pkg/ioplane"
	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/plugin"
	"github.com/cuemby/taskd/pkg/prolog"
	"github.com/cuemby/taskd/pkg/rpc"
	"github.com/cuemby/taskd/pkg/supervisor"
	"github.com/cuemby/taskd/pkg/tree"
	"github.com/cuemby/taskd/pkg/types"
	"github.com/cuemby/taskd/pkg/waiter"
)

// escalationBackoffCap is the maximum backoff between successive
// forced-destroy attempts in terminate_job's kill cascade (§4.6, §9).
const escalationBackoffCap = 120 * time.Second

// defaultKillWait is the SIGTERM grace period used when AgentConfig
// carries no configured value.
const defaultKillWait = 30 * time.Second

// killPollInterval is how often terminate_job polls whether a step's
// process group is still alive while waiting out kill_wait or retrying
// the forced destroy cycle.
const killPollInterval = 250 * time.Millisecond

// stepState is everything the agent tracks for one in-flight step.
type stepState struct {
	step    *types.Step
	handle  *supervisor.Handle
	overlay tree.Overlay
	agg     *tree.Aggregator

	switchHandle  string
	sessionHandle string
	sessionOpened bool

	ioPlane *ioplane.Plane
	ioConn  net.Conn
}

// AgentConfig is the fixed configuration an Agent is built with.
type AgentConfig struct {
	NodeID    string // this node's hostname, matched against credential host lists
	NodeIndex int
	NodeCount int
	Fanout    int
	RunDir    string

	// SuperUID and ServiceUID are the uids treated as already authorized
	// independent of any credential (§4.2 step 1, §4.6): the super-user
	// and the node-agent's own configured service account.
	SuperUID   uint32
	ServiceUID uint32

	KillWaitSeconds int // seconds to wait after SIGTERM before escalating to SIGKILL (§4.6)

	PrologPath     string // site prolog script, run once per job before its first step launches
	EpilogPath     string // site epilog script, run once per job after terminate_job's kill cascade
	TaskEpilogPath string // per-node administrator task-epilog, run once per completed local task
}

// controllerNotifier is the outbound slice of the node-agent's RPC
// contract the agent itself drives, rather than answers: today just
// epilog_complete (§4.6). Defined here, not imported as a concrete
// client type, for the same reason taskLauncher is.
type controllerNotifier interface {
	EpilogComplete(ctx context.Context, req *rpc.EpilogCompleteRequest) error
	AbortJob(ctx context.Context, req *rpc.AbortJobRequest) error
}

type noopNotifier struct{}

func (noopNotifier) EpilogComplete(ctx context.Context, req *rpc.EpilogCompleteRequest) error {
	return nil
}

func (noopNotifier) AbortJob(ctx context.Context, req *rpc.AbortJobRequest) error { return nil }

// taskLauncher is the subset of *supervisor.Runner the agent needs.
// Defined here, rather than depending on the concrete type directly, so
// tests can exercise the RPC contract against a fake that never forks a
// real process.
type taskLauncher interface {
	Launch(ctx context.Context, step *types.StepImmutable, resources *types.Resources, devices []capability.DeviceHandle, stdio []supervisor.TaskStdio) (*supervisor.Handle, error)
	Teardown(ctx context.Context, h *supervisor.Handle) error
}

// Agent is the concrete node-agent: it implements dispatcher.NodeAgent by
// validating credentials, delegating task creation to pkg/supervisor, and
// tracking step state for reattach, pid2jid, and metrics.
type Agent struct {
	cfg AgentConfig

	validator *credential.Validator
	revoked   *credential.RevocationTable
	waiters   *waiter.Set
	runner    taskLauncher
	groups    *identity.GroupCache
	prolog    *prolog.Runner
	notifier  controllerNotifier

	switchPlugin  plugin.Switch
	acctPlugin    plugin.Accounting
	sessionPlugin plugin.Session

	mu      sync.Mutex
	steps   map[types.StepID]*stepState
	seenJob map[uint32]bool
}

// NewAgent builds an Agent. Pass nil for switchPlugin/acctPlugin/
// sessionPlugin/notifier to use their no-op defaults.
func NewAgent(cfg AgentConfig, validator *credential.Validator, revoked *credential.RevocationTable, runner taskLauncher, switchPlugin plugin.Switch, acctPlugin plugin.Accounting, sessionPlugin plugin.Session) *Agent {
	if switchPlugin == nil {
		switchPlugin = plugin.NoopSwitch{}
	}
	if acctPlugin == nil {
		acctPlugin = plugin.NoopAccounting{}
	}
	if sessionPlugin == nil {
		sessionPlugin = plugin.NoopSession{}
	}
	groups := identity.NewGroupCache()
	return &Agent{
		cfg:           cfg,
		validator:     validator,
		revoked:       revoked,
		waiters:       waiter.New(),
		runner:        runner,
		groups:        groups,
		prolog:        prolog.NewRunner(groups),
		notifier:      noopNotifier{},
		switchPlugin:  switchPlugin,
		acctPlugin:    acctPlugin,
		sessionPlugin: sessionPlugin,
		steps:         make(map[types.StepID]*stepState),
		seenJob:       make(map[uint32]bool),
	}
}

// SetNotifier overrides the default no-op outbound notifier with one that
// actually reaches the controller (cmd/taskd wires this once its gRPC
// client to the controller exists).
func (a *Agent) SetNotifier(n controllerNotifier) {
	if n != nil {
		a.notifier = n
	}
}

// firstSeen reports whether jobID has not previously triggered a prolog
// on this node, and marks it seen if so. Called at most once per job per
// node-agent lifetime; a restart re-runs the prolog for any job still
// active, same as a freshly-arriving one.
func (a *Agent) firstSeen(jobID uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seenJob[jobID] {
		return false
	}
	a.seenJob[jobID] = true
	return true
}

// hotPaths is the subset of AgentConfig that ApplyHotReload can change
// after construction, snapshotted under a.mu so a concurrent SIGHUP
// reload never races a running prolog/epilog invocation or an in-flight
// terminate_job kill wait.
type hotPaths struct {
	prolog, epilog, taskEpilog string
	killWait                   time.Duration
}

func (a *Agent) hot() hotPaths {
	a.mu.Lock()
	defer a.mu.Unlock()
	killWait := time.Duration(a.cfg.KillWaitSeconds) * time.Second
	if killWait <= 0 {
		killWait = defaultKillWait
	}
	return hotPaths{prolog: a.cfg.PrologPath, epilog: a.cfg.EpilogPath, taskEpilog: a.cfg.TaskEpilogPath, killWait: killWait}
}

// ApplyHotReload applies a SIGHUP-triggered config reload's hot fields
// (pkg/config's Hot: prolog/epilog paths and kill_wait_seconds) to a
// running Agent. Matches config.Reloader's onReload signature directly.
func (a *Agent) ApplyHotReload(hot config.Hot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.PrologPath = hot.PrologPath
	a.cfg.EpilogPath = hot.EpilogPath
	a.cfg.TaskEpilogPath = hot.TaskEpilogPath
	a.cfg.KillWaitSeconds = hot.KillWaitSeconds
}

// runProlog executes the site prolog for jobID's first step launch on
// this node (§4.6, §4.7). A non-nil error means PrologFailed: the launch
// must be aborted and the credential left unconsumed so the controller
// can retry on another node.
func (a *Agent) runProlog(ctx context.Context, jobID uint32, uid, gid uint32, groups []uint32, resourceTag string) error {
	path := a.hot().prolog
	if path == "" || !a.firstSeen(jobID) {
		return nil
	}
	res, err := a.prolog.Run(ctx, prolog.Request{
		Kind: prolog.KindProlog, Path: path,
		JobID: jobID, UID: uid, GID: gid, Groups: groups, Partition: resourceTag,
	})
	if err != nil {
		return err
	}
	if res.Ran && (res.ExitCode != 0 || res.Signaled) {
		return fmt.Errorf("prolog exited with code %d (signaled=%v)", res.ExitCode, res.Signaled)
	}
	return nil
}

// runEpilog executes the site epilog once terminate_job's kill cascade
// has driven every step of jobID to exit (§4.6, §4.7). Epilog failures
// are logged, not propagated: §9's exactly-once epilog_complete guarantee
// does not depend on the epilog script itself succeeding.
func (a *Agent) runEpilog(ctx context.Context, jobID, uid, gid uint32, resourceTag string) int {
	path := a.hot().epilog
	if path == "" {
		return 0
	}
	res, err := a.prolog.Run(ctx, prolog.Request{
		Kind: prolog.KindEpilog, Path: path,
		JobID: jobID, UID: uid, GID: gid, Partition: resourceTag,
	})
	if err != nil {
		log.WithComponent("stepagent").Error().Err(err).Uint32("job", jobID).Msg("epilog failed to run")
		return -1
	}
	return res.ExitCode
}

// runTaskEpilog executes the per-node administrator task-epilog for one
// completed local task (§4.4, line on completed-pid handling), under the
// task owner's identity. Failures are logged, never surfaced to the step:
// "errors in per-task epilog scripts are logged but do not fail the step".
func (a *Agent) runTaskEpilog(ctx context.Context, step *types.Step, t *types.Task) {
	path := a.hot().taskEpilog
	if path == "" {
		return
	}
	_, err := a.prolog.Run(ctx, prolog.Request{
		Kind: prolog.KindTaskEpilog, Path: path,
		JobID: step.JobID, UID: step.UID, GID: step.GID, Groups: step.SupplementalGIDs,
	})
	if err != nil {
		log.WithComponent("stepagent").Error().Err(err).Uint32("job", step.JobID).Int("task", t.LocalID).Msg("task epilog failed")
	}
}

// abortJob reports a prolog failure to the controller via abort_job
// (§4.7 error-handling policy: "the job itself is aborted to the
// controller"). Best-effort: failures to deliver it are logged, not
// returned, since the caller has already decided to fail the launch
// locally regardless.
func (a *Agent) abortJob(ctx context.Context, jobID uint32, cause error) {
	if err := a.notifier.AbortJob(ctx, &rpc.AbortJobRequest{
		RequestID: uuid.NewString(),
		JobID:     jobID,
		NodeID:    a.cfg.NodeID,
		Reason:    cause.Error(),
	}); err != nil {
		log.WithComponent("stepagent").Error().Err(err).Uint32("job", jobID).Msg("abort_job delivery failed")
	}
}

// ActiveSteps implements metrics.StateSource.
func (a *Agent) ActiveSteps() []*types.Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	steps := make([]*types.Step, 0, len(a.steps))
	for _, s := range a.steps {
		steps = append(steps, s.step)
	}
	return steps
}

// isAuthorizedCaller reports whether ctx's authenticated uid is the
// super-user or the node-agent's configured service uid (§4.2 step 1,
// §4.6). Unauthenticated callers (e.g. in tests that never inject a uid)
// are never authorized.
func (a *Agent) isAuthorizedCaller(ctx context.Context) bool {
	uid, ok := dispatcher.AuthenticatedUID(ctx)
	if !ok {
		return false
	}
	return uid == a.cfg.SuperUID || uid == a.cfg.ServiceUID
}

// checkLaunchUID enforces §4.6's launch-RPC-specific rule: "launch RPCs
// require the credential's uid equal the authenticated uid when the
// caller is not authorized". An authorized caller (super-user or service
// uid) may launch tasks as any uid the credential itself authorizes.
// LaunchTasks is deliberately absent from controlMethods, since
// stepd's own in-process launch (no gRPC peer, no authenticated uid in
// ctx at all) is a trusted local call, not a network RPC; this check
// only fires once a peer identity is actually present to compare.
func (a *Agent) checkLaunchUID(ctx context.Context, credUID uint32) rpc.Status {
	if a.isAuthorizedCaller(ctx) {
		return rpc.Ok
	}
	uid, ok := dispatcher.AuthenticatedUID(ctx)
	if !ok {
		return rpc.Ok
	}
	if uid != credUID {
		return rpc.Err(rpc.CodeCredentialInvalid, "launch RPCs require the credential's uid to match the authenticated caller")
	}
	return rpc.Ok
}

// verifyCredential runs the shared credential checks (§4.2) — including
// that the credential's own (job, step, uid) matches what the RPC
// envelope asserts, so a credential signed for one job cannot authorize
// a different one by varying the envelope alone — plus the per-host
// task-count check that credential.Validator deliberately leaves to the
// caller, since it is a launch-class-only concern, not a generic
// property of every credentialed RPC.
func (a *Agent) verifyCredential(ctx context.Context, cred *types.Credential, assertedJobID, assertedStepID, assertedUID uint32, localTaskCount int) (hostRank int, status rpc.Status) {
	assertion := credential.Assertion{
		JobID:            assertedJobID,
		StepID:           assertedStepID,
		UID:              assertedUID,
		AuthorizedCaller: a.isAuthorizedCaller(ctx),
	}
	if err := a.validator.Verify(cred, a.cfg.NodeID, assertion); err != nil {
		switch err {
		case credential.ErrExpired:
			return -1, rpc.Err(rpc.CodeCredentialExpired, err.Error())
		case credential.ErrRevoked:
			return -1, rpc.Err(rpc.CodeCredentialRevoked, err.Error())
		case credential.ErrHostNotAuthorized:
			return -1, rpc.Err(rpc.CodeHostNotAuthorized, err.Error())
		default: // covers ErrSignatureInvalid and ErrMismatch
			return -1, rpc.Err(rpc.CodeCredentialInvalid, err.Error())
		}
	}
	rank, err := credential.HostRank(cred.HostList, a.cfg.NodeID)
	if err != nil {
		return -1, rpc.Err(rpc.CodeCredentialInvalid, err.Error())
	}
	if cred.TaskCounts != nil {
		if rank >= len(cred.TaskCounts) || int(cred.TaskCounts[rank]) != localTaskCount {
			return -1, rpc.Err(rpc.CodeCredentialInvalid, "local task count does not match credential's authorized count for this host")
		}
	}
	return rank, rpc.Ok
}

// LaunchTasks implements launch_tasks (§4.6). A retry for a step already
// tracked on this node is idempotent: it returns the already-launched
// tasks rather than forking a second copy.
func (a *Agent) LaunchTasks(ctx context.Context, req *rpc.LaunchTasksRequest) (*rpc.LaunchTasksResponse, error) {
	id := types.StepID{JobID: req.JobID, StepID: req.StepID}

	a.mu.Lock()
	if existing, ok := a.steps[id]; ok {
		a.mu.Unlock()
		return launchResponseFromHandle(existing.handle), nil
	}
	a.mu.Unlock()

	rank, status := a.verifyCredential(ctx, &req.Credential, req.JobID, req.StepID, req.UID, req.LocalTaskCount)
	if !status.IsOK() {
		return &rpc.LaunchTasksResponse{Status: status}, nil
	}
	if status := a.checkLaunchUID(ctx, req.Credential.UID); !status.IsOK() {
		return &rpc.LaunchTasksResponse{Status: status}, nil
	}

	groups, err := a.groups.Lookup(req.UID, req.GID)
	if err != nil {
		return &rpc.LaunchTasksResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}

	if err := a.runProlog(ctx, req.JobID, req.UID, req.GID, groups, req.ResourceTag); err != nil {
		a.abortJob(ctx, req.JobID, err)
		return &rpc.LaunchTasksResponse{Status: rpc.Err(rpc.CodePrologFailed, err.Error())}, nil
	}

	step := &types.Step{
		StepImmutable: types.StepImmutable{
			JobID:            req.JobID,
			StepID:           req.StepID,
			UID:              req.UID,
			GID:              req.GID,
			SupplementalGIDs: groups,
			NodeID:           req.NodeIndex,
			LocalRankZero:    req.NodeIndex == 0,
			NodeCount:        a.cfg.NodeCount,
			LocalTaskCount:   req.LocalTaskCount,
			GlobalTaskIDs:    req.GlobalTaskIDs,
			WorkDir:          req.WorkDir,
			Env:              req.Env,
			Argv:             req.Argv,
			Credential:       req.Credential,
		},
		StepMutable: types.StepMutable{State: types.StepInitializing},
	}

	sessionHandle, err := a.sessionPlugin.Open(ctx, req.UID, a.cfg.NodeID)
	sessionOpened := err == nil
	if err != nil {
		log.WithComponent("stepagent").Error().Err(err).Msg("pam session open failed")
	}

	stdio, plane, ioConn, err := a.openStdio(ctx, step.LocalTaskCount, req.GlobalTaskIDs, req.IOAddress, req.Credential.Signature)
	if err != nil {
		_ = a.sessionPlugin.Close(ctx, sessionHandle)
		return &rpc.LaunchTasksResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	defer closeStdio(stdio)

	handle, err := a.runner.Launch(ctx, &step.StepImmutable, nil, nil, stdio)
	if err != nil {
		if plane != nil {
			plane.Close()
		}
		_ = a.sessionPlugin.Close(ctx, sessionHandle)
		return &rpc.LaunchTasksResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	step.Tasks = handle.Tasks
	step.State = types.StepRunning

	switchHandle, err := a.switchPlugin.Init(ctx, req.JobID, &step.StepImmutable)
	if err != nil {
		log.WithComponent("stepagent").Error().Err(err).Msg("switch plugin init failed")
	}

	overlay := tree.Compute(rank, a.cfg.NodeCount, a.cfg.Fanout)
	st := &stepState{
		step: step, handle: handle, overlay: overlay, agg: tree.NewAggregator(overlay),
		switchHandle: switchHandle, sessionHandle: sessionHandle, sessionOpened: sessionOpened,
		ioPlane: plane, ioConn: ioConn,
	}

	a.mu.Lock()
	a.steps[id] = st
	a.mu.Unlock()

	go a.reap(context.Background(), id, st)

	return launchResponseFromHandle(handle), nil
}

// openStdio builds the per-task stdio a step is launched with. With no
// I/O address it falls back to /dev/null for every stream; with one, it
// allocates an ioplane.Plane and dials out to the client, handing the
// plane's client connection the credential signature as proof of
// identity (§4.6's reattach_tasks: "hand the signed credential signature
// to the step-agent as proof of identity on the client-side I/O
// connection").
func (a *Agent) openStdio(ctx context.Context, taskCount int, globalIDs []uint32, ioAddress string, sig []byte) ([]supervisor.TaskStdio, *ioplane.Plane, net.Conn, error) {
	if ioAddress == "" {
		return devNullStdio(taskCount), nil, nil, nil
	}
	plane, stdio, err := ioplane.New(globalIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	conn, err := ioplane.Dial(ctx, ioAddress, sig)
	if err != nil {
		plane.Close()
		closeStdio(stdio)
		return nil, nil, nil, err
	}
	plane.Broadcast(conn)
	return stdio, plane, conn, nil
}

// reap drains a step's reaper until every local task has exited, then
// reports accounting and drops the step from the tracked set. Run in its
// own goroutine so LaunchTasks returns as soon as tasks are released.
func (a *Agent) reap(ctx context.Context, id types.StepID, st *stepState) {
	r := supervisor.NewReaper(st.step.Tasks, id.JobID, uint32(a.cfg.NodeIndex), a.cfg.NodeCount)
	go r.Run()

	for batch := range r.Batches() {
		for _, t := range st.step.Tasks {
			for _, gid := range batch.GlobalIDs {
				if t.GlobalID == gid {
					t.Exited = true
					t.Status = batch.Status
					t.State = types.TaskDone
					a.runTaskEpilog(ctx, st.step, t)
				}
			}
		}
	}

	st.step.State = types.StepComplete
	_ = a.acctPlugin.Report(ctx, id, st.step.Accounting)

	if st.ioPlane != nil {
		st.ioPlane.Wait()
		st.ioPlane.Close()
	}
	if st.sessionOpened {
		if err := a.sessionPlugin.Close(ctx, st.sessionHandle); err != nil {
			log.WithComponent("stepagent").Error().Err(err).Str("step", id.String()).Msg("pam session close failed")
		}
	}

	if err := a.runner.Teardown(ctx, st.handle); err != nil {
		log.WithComponent("stepagent").Error().Err(err).Str("step", id.String()).Msg("container teardown failed")
	}

	a.mu.Lock()
	delete(a.steps, id)
	a.mu.Unlock()
}

func launchResponseFromHandle(h *supervisor.Handle) *rpc.LaunchTasksResponse {
	tasks := make([]rpc.LaunchedTask, 0, len(h.Tasks))
	for _, t := range h.Tasks {
		tasks = append(tasks, rpc.LaunchedTask{LocalPID: t.PID, GlobalID: t.GlobalID})
	}
	return &rpc.LaunchTasksResponse{Status: rpc.Ok, Tasks: tasks}
}

// SpawnTask implements spawn_task: identical to launch_tasks but skips
// the per-host task-count check (§6), used for one-off auxiliary tasks a
// running step adds after its initial launch.
func (a *Agent) SpawnTask(ctx context.Context, req *rpc.SpawnTaskRequest) (*rpc.LaunchTasksResponse, error) {
	inner := req.LaunchTasksRequest
	inner.Credential.TaskCounts = nil // bypass the count check this RPC explicitly waives
	return a.LaunchTasks(ctx, &inner)
}

// BatchJob implements batch_job (§4.6, §REDESIGN FLAGS): this node-agent
// always runs the prolog synchronously before acknowledging, so there is
// no early-ack path to special-case here regardless of req.Features.
func (a *Agent) BatchJob(ctx context.Context, req *rpc.BatchJobRequest) (*rpc.BatchJobResponse, error) {
	id := types.StepID{JobID: req.JobID, StepID: 0}

	groups, err := a.groups.Lookup(req.UID, req.GID)
	if err != nil {
		return &rpc.BatchJobResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}

	if err := a.runProlog(ctx, req.JobID, req.UID, req.GID, groups, req.ResourceTag); err != nil {
		writeBatchDiagnostic(req.StderrPath, req.UID, req.GID, err)
		a.abortJob(ctx, req.JobID, err)
		return &rpc.BatchJobResponse{Status: rpc.Err(rpc.CodePrologFailed, err.Error())}, nil
	}

	step := &types.Step{
		StepImmutable: types.StepImmutable{
			JobID:            req.JobID,
			StepID:           0,
			UID:              req.UID,
			GID:              req.GID,
			SupplementalGIDs: groups,
			NodeID:           a.cfg.NodeIndex,
			LocalRankZero:    true,
			NodeCount:        1,
			LocalTaskCount:   1,
			GlobalTaskIDs:    []uint32{0},
			WorkDir:          req.WorkDir,
			Env:              req.Env,
			Argv:             []string{"/bin/sh", "-c", req.Script},
			Batch:            true,
		},
		StepMutable: types.StepMutable{State: types.StepInitializing, BatchScript: req.Script},
	}

	stdio, err := batchStdio(req.UID, req.GID, req.StdoutPath, req.StderrPath)
	if err != nil {
		return &rpc.BatchJobResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	defer closeStdio(stdio)

	handle, err := a.runner.Launch(ctx, &step.StepImmutable, nil, nil, stdio)
	if err != nil {
		return &rpc.BatchJobResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	step.Tasks = handle.Tasks
	step.State = types.StepRunning

	st := &stepState{step: step, handle: handle}
	a.mu.Lock()
	a.steps[id] = st
	a.mu.Unlock()

	go a.reap(context.Background(), id, st)

	return &rpc.BatchJobResponse{Status: rpc.Ok}, nil
}

// SignalTasks implements signal_tasks / terminate_tasks / signal_job /
// suspend_job (§4.6): every one of these ultimately delivers a signal to
// a step's process group, differing only in which signal the controller
// chose.
func (a *Agent) SignalTasks(ctx context.Context, req *rpc.SignalTasksRequest) (*rpc.SignalTasksResponse, error) {
	id := types.StepID{JobID: req.JobID, StepID: req.StepID}
	a.mu.Lock()
	st, ok := a.steps[id]
	a.mu.Unlock()
	if !ok {
		return &rpc.SignalTasksResponse{Status: rpc.Err(rpc.CodeNotFound, "step not tracked on this node")}, nil
	}
	if err := st.handle.Kill(syscall.Signal(req.Signal)); err != nil {
		return &rpc.SignalTasksResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	return &rpc.SignalTasksResponse{Status: rpc.Ok}, nil
}

// TerminateJob implements terminate_job (§4.6, §4.8, §9): the waiter set
// ensures only one cascade runs per job, the credential is revoked before
// any signal is sent so a concurrent launch_tasks cannot slip in after
// termination begins, and the kill cascade is two-phase: SIGCONT (wake a
// suspended job so it can observe SIGTERM) then SIGTERM, waited out for
// up to kill_wait seconds for a clean exit; then SIGKILL plus a forced
// container-destroy retry loop with a capped exponential backoff, run
// until no process remains in any step's process group.
func (a *Agent) TerminateJob(ctx context.Context, req *rpc.TerminateJobRequest) (*rpc.TerminateJobResponse, error) {
	if !a.waiters.Enter(req.JobID) {
		return &rpc.TerminateJobResponse{Status: rpc.Ok}, nil // another cascade already owns this job
	}
	defer a.waiters.Leave(req.JobID)

	a.mu.Lock()
	var handles []*supervisor.Handle
	var gid uint32
	var switchHandles []string
	var stepIDs []uint32
	for id, st := range a.steps {
		if id.JobID == req.JobID {
			handles = append(handles, st.handle)
			gid = st.step.GID
			stepIDs = append(stepIDs, id.StepID)
			if st.switchHandle != "" {
				switchHandles = append(switchHandles, st.switchHandle)
			}
		}
	}
	a.mu.Unlock()
	resourceTag := req.ResourceTag

	if a.revoked != nil {
		for _, stepID := range stepIDs {
			if err := a.revoked.Insert(req.JobID, stepID); err != nil {
				log.WithComponent("stepagent").Error().Err(err).Msg("revocation insert failed")
			}
		}
	}

	for _, h := range handles {
		_ = h.Kill(syscall.SIGCONT)
	}
	for _, h := range handles {
		_ = h.Kill(syscall.SIGTERM)
	}

	ctxDone := false
	killWait := a.hot().killWait
	deadline := time.Now().Add(killWait)
	for anyAlive(handles) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			ctxDone = true
		case <-time.After(killPollInterval):
		}
		if ctxDone {
			break
		}
	}

	for _, h := range handles {
		_ = h.Kill(syscall.SIGKILL)
	}

	// §4.6: escalate to SIGKILL and a forced container-destroy cycle with
	// exponential backoff, repeated until every task's process group is
	// actually gone rather than assuming one SIGKILL pass sufficed.
	destroyBackoff := time.Second
	for !ctxDone && anyAlive(handles) {
		for _, h := range handles {
			_ = h.Kill(syscall.SIGKILL)
			if err := a.runner.Teardown(context.Background(), h); err != nil {
				log.WithComponent("stepagent").Debug().Err(err).Msg("forced container destroy attempt failed, retrying")
			}
		}
		select {
		case <-ctx.Done():
			ctxDone = true
		case <-time.After(destroyBackoff):
		}
		if destroyBackoff < escalationBackoffCap {
			destroyBackoff *= 2
			if destroyBackoff > escalationBackoffCap {
				destroyBackoff = escalationBackoffCap
			}
		}
	}

	if a.revoked != nil {
		if _, err := a.revoked.BeginExpiration(req.JobID, 0); err != nil {
			log.WithComponent("stepagent").Error().Err(err).Msg("begin_expiration read failed")
		}
	}

	var switchInfo []byte
	for _, h := range switchHandles {
		snap, err := a.switchPlugin.Snapshot(context.Background(), req.JobID, h)
		if err != nil {
			log.WithComponent("stepagent").Error().Err(err).Msg("switch plugin snapshot failed")
			continue
		}
		switchInfo = append(switchInfo, snap...)
		if err := a.switchPlugin.Fini(context.Background(), req.JobID, h); err != nil {
			log.WithComponent("stepagent").Error().Err(err).Msg("switch plugin fini failed")
		}
	}

	rc := a.runEpilog(context.Background(), req.JobID, req.UID, gid, resourceTag)
	if err := a.notifier.EpilogComplete(context.Background(), &rpc.EpilogCompleteRequest{
		RequestID:  uuid.NewString(),
		JobID:      req.JobID,
		ReturnCode: rc,
		SwitchInfo: switchInfo,
	}); err != nil {
		log.WithComponent("stepagent").Error().Err(err).Uint32("job", req.JobID).Msg("epilog_complete delivery failed")
	}

	return &rpc.TerminateJobResponse{Status: rpc.Ok}, nil
}

// ReattachTasks implements reattach_tasks (§4.6): reports the pid/global-id
// pairs for a step already running on this node, for a client that lost
// its original I/O connection.
func (a *Agent) ReattachTasks(ctx context.Context, req *rpc.ReattachTasksRequest) (*rpc.ReattachTasksResponse, error) {
	id := types.StepID{JobID: req.JobID, StepID: req.StepID}
	a.mu.Lock()
	st, ok := a.steps[id]
	a.mu.Unlock()
	if !ok {
		return &rpc.ReattachTasksResponse{Status: rpc.Err(rpc.CodeNotFound, "step not tracked on this node")}, nil
	}
	if _, status := a.verifyCredential(ctx, &req.Credential, req.JobID, req.StepID, st.step.UID, st.step.LocalTaskCount); !status.IsOK() {
		return &rpc.ReattachTasksResponse{Status: status}, nil
	}

	if req.IOAddress != "" {
		a.mu.Lock()
		plane := st.ioPlane
		a.mu.Unlock()
		if plane != nil {
			conn, err := ioplane.Dial(ctx, req.IOAddress, req.Credential.Signature)
			if err != nil {
				return &rpc.ReattachTasksResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
			}
			plane.Broadcast(conn)
			a.mu.Lock()
			st.ioConn = conn
			a.mu.Unlock()
		}
	}

	tasks := make([]rpc.ReattachedTask, 0, len(st.step.Tasks))
	for _, t := range st.step.Tasks {
		tasks = append(tasks, rpc.ReattachedTask{GlobalID: t.GlobalID, PID: t.PID})
	}
	return &rpc.ReattachTasksResponse{Status: rpc.Ok, Tasks: tasks}, nil
}

// Pid2Jid implements pid2jid (§4.6): a linear scan of tracked steps'
// tasks, since a node rarely has enough concurrent steps to warrant a
// secondary pid index.
func (a *Agent) Pid2Jid(ctx context.Context, req *rpc.Pid2JidRequest) (*rpc.Pid2JidResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, st := range a.steps {
		for _, t := range st.step.Tasks {
			if t.PID == req.PID {
				return &rpc.Pid2JidResponse{JobID: id.JobID, Found: true}, nil
			}
		}
	}
	return &rpc.Pid2JidResponse{Found: false}, nil
}

// FileBcast implements file_bcast (§4.6): appends an incoming block to
// the target path, creating it with the requested mode on the first
// block and truncating on Force.
func (a *Agent) FileBcast(ctx context.Context, req *rpc.FileBcastRequest) (*rpc.FileBcastResponse, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if req.BlockNum == 0 {
		if req.Force {
			flags |= os.O_TRUNC
		} else {
			flags |= os.O_EXCL
		}
	}
	f, err := os.OpenFile(req.TargetPath, flags, os.FileMode(req.Mode))
	if err != nil {
		return &rpc.FileBcastResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return &rpc.FileBcastResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	if _, err := f.Write(req.Block); err != nil {
		return &rpc.FileBcastResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
	}
	if req.LastBlock {
		if err := os.Chown(req.TargetPath, int(req.UID), int(req.GID)); err != nil {
			return &rpc.FileBcastResponse{Status: rpc.Err(rpc.CodeInternal, err.Error())}, nil
		}
		if !req.MTime.IsZero() {
			_ = os.Chtimes(req.TargetPath, req.ATime, req.MTime)
		}
	}
	return &rpc.FileBcastResponse{Status: rpc.Ok}, nil
}

// StepComplete implements step_complete (§4.3, §4.6): folds a child's
// reported range into this node's aggregator for the named step.
func (a *Agent) StepComplete(ctx context.Context, req *rpc.StepCompleteRequest) (*rpc.StepCompleteResponse, error) {
	id := types.StepID{JobID: req.JobID, StepID: req.StepID}
	a.mu.Lock()
	st, ok := a.steps[id]
	a.mu.Unlock()
	if !ok {
		return &rpc.StepCompleteResponse{Status: rpc.Err(rpc.CodeNotFound, "step not tracked on this node")}, nil
	}
	if st.agg == nil {
		return &rpc.StepCompleteResponse{Status: rpc.Err(rpc.CodeInternal, "step has no aggregator")}, nil
	}
	st.agg.Report(req.First, req.StepRC)
	return &rpc.StepCompleteResponse{Status: rpc.Ok}, nil
}

// Ping implements ping (§4.6).
func (a *Agent) Ping(ctx context.Context, req *rpc.PingRequest) (*rpc.PingResponse, error) {
	return &rpc.PingResponse{Status: rpc.Ok}, nil
}

// Reconfigure implements reconfigure (§4.6): a no-op acknowledgment here,
// since configuration re-read is driven by SIGHUP (pkg/config), not by
// this RPC doing the reload itself.
func (a *Agent) Reconfigure(ctx context.Context, req *rpc.ReconfigureRequest) (*rpc.ReconfigureResponse, error) {
	return &rpc.ReconfigureResponse{Status: rpc.Ok}, nil
}

// Shutdown implements shutdown (§4.6). The caller (cmd/taskd) is
// responsible for actually exiting the process once this returns; Shutdown
// itself only acknowledges the request.
func (a *Agent) Shutdown(ctx context.Context, req *rpc.ShutdownRequest) (*rpc.ShutdownResponse, error) {
	return &rpc.ShutdownResponse{Status: rpc.Ok}, nil
}

// batchStdio opens a batch job's single task's stdout/stderr at the
// paths the controller assigned (falling back to /dev/null for either
// one left unset), owned by the job's uid/gid, and /dev/null for stdin
// since a batch script never has an interactive client attached.
func batchStdio(uid, gid uint32, stdoutPath, stderrPath string) ([]supervisor.TaskStdio, error) {
	stdin, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("stepagent: open stdin: %w", err)
	}
	stdout, err := openBatchStream(stdoutPath, uid, gid)
	if err != nil {
		stdin.Close()
		return nil, err
	}
	stderr, err := openBatchStream(stderrPath, uid, gid)
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, err
	}
	return []supervisor.TaskStdio{{Stdin: stdin, Stdout: stdout, Stderr: stderr}}, nil
}

func openBatchStream(path string, uid, gid uint32) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("stepagent: open %s: %w", path, err)
	}
	if err := os.Chown(path, int(uid), int(gid)); err != nil {
		f.Close()
		return nil, fmt.Errorf("stepagent: chown %s: %w", path, err)
	}
	return f, nil
}

// anyAlive reports whether any handle still has a live process group.
func anyAlive(handles []*supervisor.Handle) bool {
	for _, h := range handles {
		if h.Alive() {
			return true
		}
	}
	return false
}

func devNullStdio(n int) []supervisor.TaskStdio {
	stdio := make([]supervisor.TaskStdio, n)
	for i := range stdio {
		null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		stdio[i] = supervisor.TaskStdio{Stdin: null, Stdout: null, Stderr: null}
	}
	return stdio
}

// writeBatchDiagnostic appends a human-readable line to a batch job's
// stderr file explaining why the job never ran, per §4.6: "failure of
// the prolog writes a human-readable line into the batch job's stderr
// file before the step-complete is emitted".
func writeBatchDiagnostic(path string, uid, gid uint32, cause error) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		log.WithComponent("stepagent").Error().Err(err).Str("path", path).Msg("could not write batch prolog diagnostic")
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "taskd: prolog failed, job not run: %v\n", cause)
	_ = os.Chown(path, int(uid), int(gid))
}

func closeStdio(stdio []supervisor.TaskStdio) {
	seen := make(map[*os.File]bool)
	for _, s := range stdio {
		for _, f := range []*os.File{s.Stdin, s.Stdout, s.Stderr} {
			if f != nil && !seen[f] {
				seen[f] = true
				_ = f.Close()
			}
		}
	}
}
