/*
Package types defines the core data structures shared by every package in
taskd: the step descriptor, its task records, and the credential shape the
rest of the core validates against.

# Core Types

Step lifecycle:
  - Step: immutable launch parameters (StepImmutable) plus mutable runtime
    state (StepMutable); exclusively owned by the step-agent process.
  - StepState: INITIALIZING → RUNNING → ENDING → COMPLETE.
  - Task: one local task of a step, with its own INIT → FORKED → RUNNING →
    COMPLETE state machine and a terminal ExitStatus.

Credentials:
  - Credential: the signed (job-id, step-id, uid, host-set) capability the
    controller hands a node; opaque outside pkg/credential except for the
    fields this package exposes.

Aggregation:
  - Merge implements the fixed max-with-signal-collapse rule used by the
    reverse-tree aggregator (pkg/tree) to combine task and subtree exit
    statuses into one step return code.

# Ownership

The step descriptor is a tree, not a graph: tasks are owned by the step via
a plain slice, never a pointer cycle. There is no shared mutable state
between packages — every other package receives *Step and *Task by pointer
from the step-agent and must not retain them past the step's COMPLETE
transition.
*/
package types
