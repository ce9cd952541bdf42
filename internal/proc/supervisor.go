// Package proc spawns and supervises agent CLI subprocesses over PTYs.
// One process per conversational turn; output chunks and exits are
// delivered through handler callbacks registered on the supervisor.
package proc

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// DataHandler receives raw PTY output chunks for a process.
type DataHandler func(processID string, chunk []byte)

// ExitHandler receives the process exit code. Spawn failures surface
// here too, as an immediate exit with a non-zero code.
type ExitHandler func(processID string, exitCode int)

// StartOptions describes one agent invocation.
type StartOptions struct {
	Cwd            string
	AgentSessionID string
	FirstTurn      bool
	PermissionMode string
	Model          string
	Prompt         string
}

type process struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
}

// Supervisor owns the set of live agent processes.
type Supervisor struct {
	agentPath string
	cols      uint16
	rows      uint16

	onData DataHandler
	onExit ExitHandler

	mu    sync.Mutex
	procs map[string]*process
}

func NewSupervisor(agentPath string, cols, rows uint16) *Supervisor {
	if cols == 0 {
		cols = 120
	}
	if rows == 0 {
		rows = 30
	}
	return &Supervisor{
		agentPath: agentPath,
		cols:      cols,
		rows:      rows,
		procs:     make(map[string]*process),
	}
}

// SetDataHandler registers the raw-output callback. Must be set before
// the first Start.
func (s *Supervisor) SetDataHandler(h DataHandler) { s.onData = h }

// SetExitHandler registers the exit callback. Must be set before the
// first Start.
func (s *Supervisor) SetExitHandler(h ExitHandler) { s.onExit = h }

// buildArgs assembles the CLI invocation. First turns bind the agent's
// session id; later turns resume the existing conversation instead.
func buildArgs(opts StartOptions) []string {
	args := []string{"--output-format", "stream-json", "--verbose"}
	if opts.FirstTurn {
		args = append(args, "--session-id", opts.AgentSessionID)
	} else {
		args = append(args, "--continue")
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.Prompt != "" {
		args = append(args, "-p", opts.Prompt)
	}
	return args
}

// Start launches one agent invocation and returns its process id
// synchronously. Spawn failure is reported through the exit handler as
// an immediate non-zero exit, never as a Start error.
func (s *Supervisor) Start(opts StartOptions) string {
	id := uuid.New().String()

	cmd := exec.Command(s.agentPath, buildArgs(opts)...)
	cmd.Dir = opts.Cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: s.cols, Rows: s.rows})
	if err != nil {
		log.Printf("proc %s: spawn failed: %v", id, err)
		go s.exit(id, 127)
		return id
	}

	p := &process{id: id, cmd: cmd, ptmx: ptmx}
	s.mu.Lock()
	s.procs[id] = p
	s.mu.Unlock()

	go s.readLoop(p)
	go s.waitForExit(p)
	return id
}

func (s *Supervisor) readLoop(p *process) {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && s.onData != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onData(p.id, chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) waitForExit(p *process) {
	err := p.cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}

	p.closeOnce.Do(func() { p.ptmx.Close() })

	s.mu.Lock()
	delete(s.procs, p.id)
	s.mu.Unlock()

	s.exit(p.id, exitCode)
}

func (s *Supervisor) exit(id string, code int) {
	if s.onExit != nil {
		s.onExit(id, code)
	}
}

// SendInput writes text followed by a newline to the process's stdin.
func (s *Supervisor) SendInput(processID, text string) error {
	p := s.get(processID)
	if p == nil {
		return fmt.Errorf("no process %s", processID)
	}
	if _, err := p.ptmx.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("write input to %s: %w", processID, err)
	}
	return nil
}

// Control bytes for interactive prompts.
const (
	KeyEnter  = "\r"
	KeyEscape = "\x1b"
)

// SendControlKey writes a raw control byte, without a trailing newline.
// Used to answer permission prompts: enter accepts, escape denies.
func (s *Supervisor) SendControlKey(processID, key string) error {
	p := s.get(processID)
	if p == nil {
		return fmt.Errorf("no process %s", processID)
	}
	if _, err := p.ptmx.Write([]byte(key)); err != nil {
		return fmt.Errorf("write control key to %s: %w", processID, err)
	}
	return nil
}

// Resize adjusts the process's PTY dimensions.
func (s *Supervisor) Resize(processID string, cols, rows uint16) error {
	p := s.get(processID)
	if p == nil {
		return fmt.Errorf("no process %s", processID)
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resize %s: %w", processID, err)
	}
	return nil
}

// Kill terminates a process. Unknown ids are a no-op; the exit handler
// still fires through waitForExit for known ones.
func (s *Supervisor) Kill(processID string) {
	p := s.get(processID)
	if p == nil {
		return
	}
	p.closeOnce.Do(func() { p.ptmx.Close() })
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// KillAll terminates every live process. Used on daemon shutdown.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Kill(id)
	}
}

// Running reports whether the process is still tracked.
func (s *Supervisor) Running(processID string) bool {
	return s.get(processID) != nil
}

func (s *Supervisor) get(id string) *process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}
