// Command stepd is the step-agent: a node-agent forks it once per step or
// batch job (§4.5), hands it an InitConfig over an anonymous pipe, and it
// answers the node-agent's step-scoped control RPCs for that step's
// lifetime. Its other identity, invoked as "stepd __task-init", is the
// re-exec shim every forked task process becomes on its way to exec'ing
// the user's program (pkg/supervisor) — main() checks os.Args[1] for it
// before anything else runs; stepd uses no flag parser or command tree.
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/cuemby/taskd/pkg/capability"
	"github.com/cuemby/taskd/pkg/credential"
	"github.com/cuemby/taskd/pkg/dispatcher"
	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/plugin"
	"github.com/cuemby/taskd/pkg/rpc"
	"github.com/cuemby/taskd/pkg/runtime"
	"github.com/cuemby/taskd/pkg/stepagent"
	"github.com/cuemby/taskd/pkg/supervisor"
)

const (
	toStepdFD  = 3
	toSlurmdFD = 4
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "__task-init" {
		err := supervisor.RunTaskInit()
		os.Exit(supervisor.ExitCodeFor(err))
	}

	if err := runStepAgent(); err != nil {
		fmt.Fprintf(os.Stderr, "stepd: %v\n", err)
		os.Exit(1)
	}
}

// runStepAgent is the body of stepd's default invocation: the step-agent
// server (§4.5). Launcher.Spawn in pkg/stepagent/launcher.go starts this
// binary with fd 3 (to_stepd, read) and fd 4 (to_slurmd, write) already
// attached.
func runStepAgent() error {
	toStepd := os.NewFile(toStepdFD, "to_stepd")
	toSlurmd := os.NewFile(toSlurmdFD, "to_slurmd")
	if toStepd == nil || toSlurmd == nil {
		return fmt.Errorf("stepd must be forked by a node-agent with the init pipes attached")
	}

	cfg, err := stepagent.ReadInitFrame(toStepd)
	if err != nil {
		return fmt.Errorf("read init frame: %w", err)
	}
	toStepd.Close()

	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})
	logger := log.WithComponent("stepd")

	containerdRuntime, err := runtime.NewContainerdRuntime("")
	if err != nil {
		return reportFailure(toSlurmd, stepagent.ReadyContainerFailed, fmt.Errorf("containerd runtime: %w", err))
	}
	defer containerdRuntime.Close()

	allocator := capability.NewAllocator(nil)
	runner, err := supervisor.NewRunner(containerdRuntime, allocator, "")
	if err != nil {
		return reportFailure(toSlurmd, stepagent.ReadyContainerFailed, fmt.Errorf("supervisor runner: %w", err))
	}

	var validator *credential.Validator
	if len(cfg.CredentialPublicKey) == ed25519.PublicKeySize {
		validator = credential.NewValidator(ed25519.PublicKey(cfg.CredentialPublicKey), nil)
	} else {
		return reportFailure(toSlurmd, stepagent.ReadyCredentialRevoked, fmt.Errorf("missing or malformed credential public key"))
	}

	agentCfg := stepagent.AgentConfig{
		NodeID:    cfg.NodeID,
		NodeIndex: cfg.Rank,
		NodeCount: cfg.NodeCount,
		Fanout:    cfg.Fanout,
		RunDir:    cfg.RunDir,
	}
	agent := stepagent.NewAgent(agentCfg, validator, nil, runner, plugin.NoopSwitch{}, plugin.NoopAccounting{}, plugin.NoopSession{})

	ctx := context.Background()
	if cfg.Batch {
		resp, err := agent.BatchJob(ctx, &rpc.BatchJobRequest{
			JobID:      cfg.Step.JobID,
			UID:        cfg.Step.UID,
			GID:        cfg.Step.GID,
			Env:        cfg.Step.Env,
			Script:     cfg.BatchScript,
			WorkDir:    cfg.Step.WorkDir,
			StdoutPath: cfg.BatchStdoutPath,
			StderrPath: cfg.BatchStderrPath,
		})
		if err != nil {
			return reportFailure(toSlurmd, stepagent.ReadyContainerFailed, fmt.Errorf("batch_job: %w", err))
		}
		if !resp.Status.IsOK() {
			return reportFailure(toSlurmd, readyStatusFor(resp.Status), fmt.Errorf("batch_job: %v", resp.Status))
		}
	} else {
		resp, err := agent.LaunchTasks(ctx, &rpc.LaunchTasksRequest{
			JobID:          cfg.Step.JobID,
			StepID:         cfg.Step.StepID,
			UID:            cfg.Step.UID,
			GID:            cfg.Step.GID,
			NodeIndex:      cfg.Rank,
			LocalTaskCount: cfg.Step.LocalTaskCount,
			GlobalTaskIDs:  cfg.Step.GlobalTaskIDs,
			Credential:     cfg.Step.Credential,
			Env:            cfg.Step.Env,
			Argv:           cfg.Step.Argv,
			WorkDir:        cfg.Step.WorkDir,
		})
		if err != nil {
			return reportFailure(toSlurmd, stepagent.ReadyContainerFailed, fmt.Errorf("launch_tasks: %w", err))
		}
		if !resp.Status.IsOK() {
			return reportFailure(toSlurmd, readyStatusFor(resp.Status), fmt.Errorf("launch_tasks: %v", resp.Status))
		}
	}

	socketPath := dispatcher.StepAgentSocketPath(cfg.RunDir, cfg.Step.JobID, cfg.Step.StepID)
	server := dispatcher.NewStepAgentServer(agent)

	if err := stepagent.WriteReadyStatus(toSlurmd, stepagent.ReadyOK); err != nil {
		return fmt.Errorf("write ready status: %w", err)
	}
	toSlurmd.Close()

	logger.Info().Uint32("job", cfg.Step.JobID).Uint32("step", cfg.Step.StepID).Msg("step-agent ready")
	return server.ServeUnix(socketPath)
}

func reportFailure(toSlurmd *os.File, status int32, cause error) error {
	_ = stepagent.WriteReadyStatus(toSlurmd, status)
	toSlurmd.Close()
	return cause
}

func readyStatusFor(status rpc.Status) int32 {
	switch status.Code {
	case rpc.CodeCredentialRevoked, rpc.CodeCredentialExpired, rpc.CodeCredentialInvalid, rpc.CodeHostNotAuthorized:
		return stepagent.ReadyCredentialRevoked
	default:
		return stepagent.ReadyContainerFailed
	}
}
