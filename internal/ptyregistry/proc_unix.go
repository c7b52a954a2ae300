//go:build !windows

package ptyregistry

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Initial PTY geometry.
const (
	initialCols = 120
	initialRows = 40
)

// startProc launches cmd under a fresh PTY in its own process group so
// termination can reach the whole tree.
func startProc(cmd *exec.Cmd, workdir string) (ProcHandle, error) {
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: initialRows, Cols: initialCols})
	if err != nil {
		return nil, err
	}
	return &ptyProc{cmd: cmd, ptmx: ptmx}, nil
}

// ptyProc wraps a child process and its PTY master.
type ptyProc struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

func (p *ptyProc) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProc) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProc) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Terminate sends SIGTERM to the process group, falling back to the
// process itself if the group id cannot be resolved.
func (p *ptyProc) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		return p.cmd.Process.Signal(syscall.SIGTERM)
	}
	return syscall.Kill(-pgid, syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (p *ptyProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		return p.cmd.Process.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// Close releases the PTY master and reaps the child.
func (p *ptyProc) Close() error {
	err := p.ptmx.Close()
	_ = p.cmd.Wait()
	return err
}
