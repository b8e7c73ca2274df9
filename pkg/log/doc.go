/*
Package log provides structured logging for taskd using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("dispatcher")              │          │
	│  │  - WithNodeID("node-07")                    │          │
	│  │  - WithStepID("4821.0")                     │          │
	│  │  - WithTaskID("task-3")                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "supervisor",               │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "task launched"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF task launched component=supervisor │      │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every taskd package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add node ID context
  - WithStepID: Add step ID context (jobid.stepid)
  - WithTaskID: Add task ID context

# Usage

Initializing the Logger:

	import "github.com/cuemby/taskd/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("node-agent started")
	log.Debug("checking credential cache")
	log.Warn("supplementary group cache refresh requested")
	log.Error("failed to connect to containerd")
	log.Fatal("cannot bind controller listener") // exits process

Structured Logging:

	log.Logger.Info().
		Str("step_id", step.ID().String()).
		Int("local_tasks", step.LocalTaskCount).
		Msg("step launched")

	log.Logger.Error().
		Err(err).
		Str("node_id", nodeID).
		Msg("credential verification failed")

Component Loggers:

	dispatchLog := log.WithComponent("dispatcher")
	dispatchLog.Info().Msg("accepted launch_tasks rpc")

	stepLog := log.WithComponent("supervisor").
		With().Str("step_id", step.ID().String()).Logger()
	stepLog.Info().Msg("container created")
	stepLog.Error().Err(err).Msg("task exec failed")

Context Logger Helpers:

	nodeLog := log.WithNodeID("node-07")
	nodeLog.Info().Msg("registered with controller")

	stepLog := log.WithStepID(step.ID().String())
	stepLog.Info().Msg("step running")

	taskLog := log.WithTaskID("3")
	taskLog.Info().Msg("task exited")

# Integration Points

This package is imported by pkg/config, pkg/dispatcher, pkg/identity,
pkg/ioplane, pkg/plugin, pkg/stepagent, pkg/supervisor, and the cmd/taskd
and cmd/stepd entrypoints.

# Log Rotation

taskd doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):

	# /etc/logrotate.d/taskd
	/var/log/taskd/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:

	journalctl -u taskd -f

# Security

Log Content:
  - Never log credential signatures or environment variable values
  - Use structured fields (.Str, .Int) instead of string interpolation
  - Restrict log file permissions (0640)
*/
package log
