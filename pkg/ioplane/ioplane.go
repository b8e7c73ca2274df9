// Package ioplane implements the per-task I/O plane (C5): pipe-backed
// stdin/stdout/stderr for every local task of a step, a label-and-merge
// writer that tags each output line with its originating task before
// forwarding it to an attached client, and a dial-out/rebind mechanism
// so attach_tasks/reattach_tasks can point the plane at a freshly
// connected client without disturbing the running tasks.
//
// The step-agent dials out to the client rather than the other way
// around: the client is the side with a stable, externally reachable
// address across a step-agent restart or reattach, mirroring how
// reattach_tasks hands the step-agent a fresh address to connect to
// rather than having the client poll the step-agent.
package ioplane

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/cuemby/taskd/pkg/log"
	"github.com/cuemby/taskd/pkg/supervisor"
)

// Stream identifies which of a task's standard streams a labeled line
// came from.
type Stream byte

const (
	StreamStdout Stream = 1
	StreamStderr Stream = 2
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// taskIO is one task's parent-side pipe ends: the ends the Plane itself
// reads from and writes to. The child-side ends are handed to
// supervisor.Launch as TaskStdio and closed by the caller once the task
// has been forked (the same devNullStdio/closeStdio lifecycle every
// other stdio source in this package's caller already follows).
type taskIO struct {
	globalID uint32
	stdinW   *os.File
	stdoutR  *os.File
	stderrR  *os.File
}

// Plane is the per-step I/O plane. One Plane exists per launched step
// that carries an I/O address; a step launched without one never
// allocates a Plane at all (devNullStdio covers that case).
type Plane struct {
	mu   sync.Mutex
	conn net.Conn
	gen  int // bumped on every Broadcast so a stale feed goroutine knows to stop

	tasks []*taskIO

	out      chan labeledLine
	pumpWG   sync.WaitGroup // stdout/stderr pumps; done once every task has exited
	writerWG sync.WaitGroup // the single label-and-merge writer goroutine
	feedWG   sync.WaitGroup // per-attach stdin feed goroutines; not waited on by Wait

	closeOnce sync.Once
	closed    chan struct{}
}

type labeledLine struct {
	globalID uint32
	stream   Stream
	line     []byte
}

// New allocates one stdin/stdout/stderr pipe pair per entry of
// globalIDs and returns the Plane plus the TaskStdio slice (in the same
// order) to pass to supervisor.Runner.Launch. The caller is responsible
// for closing the returned TaskStdio entries once the tasks have been
// forked, exactly as it already does for devNullStdio.
func New(globalIDs []uint32) (*Plane, []supervisor.TaskStdio, error) {
	p := &Plane{
		out:    make(chan labeledLine, 64),
		closed: make(chan struct{}),
	}
	stdio := make([]supervisor.TaskStdio, len(globalIDs))
	for i, gid := range globalIDs {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			p.closeTaskPipes()
			return nil, nil, fmt.Errorf("ioplane: stdin pipe: %w", err)
		}
		stdoutR, stdoutW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			p.closeTaskPipes()
			return nil, nil, fmt.Errorf("ioplane: stdout pipe: %w", err)
		}
		stderrR, stderrW, err := os.Pipe()
		if err != nil {
			stdinR.Close()
			stdinW.Close()
			stdoutR.Close()
			stdoutW.Close()
			p.closeTaskPipes()
			return nil, nil, fmt.Errorf("ioplane: stderr pipe: %w", err)
		}

		p.tasks = append(p.tasks, &taskIO{globalID: gid, stdinW: stdinW, stdoutR: stdoutR, stderrR: stderrR})
		stdio[i] = supervisor.TaskStdio{Stdin: stdinR, Stdout: stdoutW, Stderr: stderrW}
	}

	p.writerWG.Add(1)
	go p.writer()
	for _, t := range p.tasks {
		t := t
		p.pumpWG.Add(2)
		go p.pump(t, StreamStdout, t.stdoutR)
		go p.pump(t, StreamStderr, t.stderrR)
	}

	return p, stdio, nil
}

func (p *Plane) closeTaskPipes() {
	for _, t := range p.tasks {
		t.stdinW.Close()
		t.stdoutR.Close()
		t.stderrR.Close()
	}
}

// Dial connects out to a client's listening I/O address and writes sig
// (the credential signature the client presented) as a length-prefixed
// preamble, the client's proof that this connection belongs to its step
// before any stream data follows.
func Dial(ctx context.Context, addr string, sig []byte) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ioplane: dial %s: %w", addr, err)
	}
	if err := writePreamble(conn, sig); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func writePreamble(w io.Writer, sig []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(sig)))
	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("ioplane: write preamble length: %w", err)
	}
	if len(sig) == 0 {
		return nil
	}
	if _, err := w.Write(sig); err != nil {
		return fmt.Errorf("ioplane: write preamble signature: %w", err)
	}
	return nil
}

// pump reads lines from a task's stdout or stderr pipe and forwards
// each as a labeled line, until the pipe is closed (the task has exited
// and the caller has closed the write end New handed it in TaskStdio).
func (p *Plane) pump(t *taskIO, stream Stream, r *os.File) {
	defer p.pumpWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case p.out <- labeledLine{globalID: t.globalID, stream: stream, line: line}:
		case <-p.closed:
			return
		}
	}
}

// writer drains labeled lines and writes each, prefixed with its
// originating task and stream, to whichever client connection is
// currently attached. Lines read while no client is attached are
// dropped rather than buffered indefinitely.
func (p *Plane) writer() {
	defer p.writerWG.Done()
	for {
		select {
		case l, ok := <-p.out:
			if !ok {
				return
			}
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn == nil {
				continue
			}
			msg := fmt.Sprintf("%d: %s: %s\n", l.globalID, l.stream, l.line)
			if _, err := conn.Write([]byte(msg)); err != nil {
				log.WithComponent("ioplane").Debug().Err(err).Msg("client write failed, dropping line")
			}
		case <-p.closed:
			return
		}
	}
}

// Broadcast attaches conn as the Plane's client connection, closing any
// previously attached connection, and starts copying everything read
// from conn to every task's stdin. Call once for the initial
// launch_tasks attach and again for every reattach_tasks.
func (p *Plane) Broadcast(conn net.Conn) {
	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.gen++
	gen := p.gen
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	p.feedWG.Add(1)
	go p.feedStdin(conn, gen)
}

// feedStdin copies conn's input to every task's stdin pipe until conn
// errors, the Plane is closed, or a newer Broadcast has
// superseded this generation.
func (p *Plane) feedStdin(conn net.Conn, gen int) {
	defer p.feedWG.Done()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			p.mu.Lock()
			current := p.gen == gen
			p.mu.Unlock()
			if !current {
				return
			}
			for _, t := range p.tasks {
				if _, werr := t.stdinW.Write(buf[:n]); werr != nil {
					log.WithComponent("ioplane").Debug().Uint32("task", t.globalID).Err(werr).Msg("stdin broadcast write failed")
				}
			}
		}
		if err != nil {
			return
		}
		select {
		case <-p.closed:
			return
		default:
		}
	}
}

// Wait blocks until every task's stdout and stderr pipe has reached
// EOF, i.e. every local task has exited and the caller's copies of the
// pipe write ends have been closed, and the last labeled line has been
// written out.
func (p *Plane) Wait() {
	p.pumpWG.Wait()
	p.closeOnce.Do(func() { close(p.out) })
	p.writerWG.Wait()
}

// Close tears down the Plane: closes the attached client connection (if
// any) and every task's stdin pipe. Safe to call after Wait, or instead
// of it if the step is being torn down early.
func (p *Plane) Close() {
	select {
	case <-p.closed:
		return
	default:
		close(p.closed)
	}
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	for _, t := range p.tasks {
		_ = t.stdinW.Close()
		_ = t.stdoutR.Close()
		_ = t.stderrR.Close()
	}
}
