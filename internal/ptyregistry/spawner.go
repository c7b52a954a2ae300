// Package ptyregistry owns the set of live PTY-backed shell sessions,
// broadcasts their output to attached clients, and enforces TTL and idle
// lifecycle policies.
package ptyregistry

import (
	"io"
	"os"
	"os/exec"
)

// ProcHandle is the registry's handle on a live PTY process.
type ProcHandle interface {
	io.Reader
	io.Writer

	// Resize changes the PTY geometry.
	Resize(cols, rows uint16) error

	// Terminate asks the process group to exit.
	Terminate() error

	// Kill forcibly ends the process group.
	Kill() error

	// Close releases the handle and reaps the child.
	Close() error
}

// Spawner starts a new PTY-backed process for a session.
type Spawner interface {
	// Name identifies the spawn path, "muxer" or "shell".
	Name() string

	// Available reports whether this spawner can run on this host.
	Available() bool

	// Spawn starts the process in the given working directory.
	Spawn(sessionID, workdir string) (ProcHandle, error)
}

// MuxerSpawner spawns sessions through an external terminal muxer with
// attach-or-create semantics, so a gateway restart reattaches to a
// still-running muxer session instead of losing it.
type MuxerSpawner struct {
	Bin string
}

// Name returns "muxer".
func (s *MuxerSpawner) Name() string { return "muxer" }

// Available reports whether the muxer binary resolves on $PATH.
func (s *MuxerSpawner) Available() bool {
	if s.Bin == "" {
		return false
	}
	_, err := exec.LookPath(s.Bin)
	return err == nil
}

// Spawn attaches to or creates the muxer session named after the
// session id.
func (s *MuxerSpawner) Spawn(sessionID, workdir string) (ProcHandle, error) {
	cmd := exec.Command(s.Bin, "new-session", "-A", "-s", sessionID)
	return startProc(cmd, workdir)
}

// ShellSpawner spawns a plain login shell when no muxer is available.
type ShellSpawner struct {
	Shell string
}

// Name returns "shell".
func (s *ShellSpawner) Name() string { return "shell" }

// Available always succeeds; some shell exists on any supported host.
func (s *ShellSpawner) Available() bool { return true }

// Spawn starts the configured shell, or $SHELL, or /bin/sh as a login
// shell.
func (s *ShellSpawner) Spawn(sessionID, workdir string) (ProcHandle, error) {
	shell := s.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, "-l")
	return startProc(cmd, workdir)
}
