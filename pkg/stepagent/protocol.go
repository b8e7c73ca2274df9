// Package stepagent implements the step-agent lifecycle (§4.5): the
// launch of a detached stepd process from the node-agent (one fork into
// a new session via Setsid, not a double fork), the
// init-pipe handshake that hands the freshly forked step-agent its
// launch configuration before it has a gRPC listener of its own, and
// the concrete node-agent RPC contract (dispatcher.NodeAgent) that the
// launched step-agent answers once it is ready. Task forking and
// reaping is pkg/supervisor's job; this package only gets the step-agent
// process stood up and wired to it.
package stepagent

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/taskd/pkg/types"
)

// InitConfig is everything the node-agent hands a freshly forked
// step-agent over the to_stepd pipe (§4.5): a lightweight configuration
// snapshot, the client's and controller's addresses, the launch
// request, and the cached supplementary-gid vector for the target uid.
type InitConfig struct {
	NodeID           string
	DataDir          string
	RunDir           string
	LogLevel         string
	ClientAddress    string
	ControllerAddr   string
	ParentStepAgent  string // address of this node's parent in the reverse tree, empty at the tree root
	Rank             int
	NodeCount        int
	Fanout           int
	Step             types.StepImmutable
	SupplementalGIDs []uint32
	Batch            bool
	BatchScript      string
	BatchStdoutPath  string
	BatchStderrPath  string

	// CredentialPublicKey is the controller's ed25519 public key, handed
	// down so the step-agent can itself answer reattach_tasks/signal_tasks
	// without depending on the node-agent for every credentialed RPC.
	CredentialPublicKey []byte
}

// WriteInitFrame writes cfg to w as a length-prefixed JSON frame: a
// 4-byte big-endian length followed by the JSON payload. Kept distinct
// from the JSON-over-gRPC codec used everywhere else (jsoncodec.go) —
// this is a raw byte stream over an anonymous pipe, not a gRPC call.
func WriteInitFrame(w io.Writer, cfg InitConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("stepagent: encode init frame: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("stepagent: write init frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("stepagent: write init frame payload: %w", err)
	}
	return nil
}

// ReadInitFrame reads a frame written by WriteInitFrame.
func ReadInitFrame(r io.Reader) (InitConfig, error) {
	var cfg InitConfig
	br := bufio.NewReader(r)
	var length [4]byte
	if _, err := io.ReadFull(br, length[:]); err != nil {
		return cfg, fmt.Errorf("stepagent: read init frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(length[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(br, payload); err != nil {
		return cfg, fmt.Errorf("stepagent: read init frame payload: %w", err)
	}
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return cfg, fmt.Errorf("stepagent: decode init frame: %w", err)
	}
	return cfg, nil
}

// Ready status codes written to the to_slurmd pipe (§4.5): a single
// integer the node-agent reads before acknowledging the launch RPC to
// the controller.
const (
	ReadyOK               int32 = 0
	ReadyCredentialRevoked int32 = 1
	ReadyContainerFailed   int32 = 2
	ReadyListenFailed      int32 = 3
)

// WriteReadyStatus writes the step-agent's single-integer readiness
// status to w.
func WriteReadyStatus(w io.Writer, status int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(status))
	_, err := w.Write(buf[:])
	return err
}

// ReadReadyStatus reads a status written by WriteReadyStatus.
func ReadReadyStatus(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}
