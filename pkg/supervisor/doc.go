// Package supervisor implements the task supervisor (§4.4, C6): the part
// of the step-agent that creates a step's container, forks one child per
// local task behind a release pipe, adds each child to a shared process
// group, releases them together once every task is forked, and reaps
// their exits with a mixed blocking/non-blocking wait loop that batches
// equal-status exits into single messages.
//
// The fork step cannot run arbitrary Go code between fork(2) and exec(2)
// through os/exec, so the release-pipe gate is implemented with a
// self-re-exec shim: each task child is actually "stepd __task-init"
// (see taskinit.go), which blocks on its inherited release-pipe fd and
// then syscall.Exec's the real user program, preserving the pid (and
// therefore the process group) across the exec.
package supervisor
