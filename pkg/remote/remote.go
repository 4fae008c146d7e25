// Package remote is the channel primitive for talking to managed hosts.
// It dials authenticated SSH channels from connection profiles and exposes
// one-shot exec, interactive shells, and an SFTP view of the remote
// filesystem. Everything above this package treats a host as a Conn.
package remote

import (
	"io"
	"os"

	"github.com/ricardoborges/nautilus/internal/registry"
)

// Conn is one authenticated channel to a remote host.
//
// Both the real SSH-backed implementation and the test double satisfy this
// interface, which is what lets the session manager, the metrics poller,
// and the one-shot command handlers be tested without a live host.
type Conn interface {
	// Exec runs a command and returns stdout, stderr, and exit code.
	// Exit code is -1 if the command couldn't be executed at all.
	// A non-zero exit code with nil error means the command ran but failed.
	Exec(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// ExecStream runs a command and streams output to the provided writers.
	ExecStream(cmd string, stdout, stderr io.Writer) (exitCode int, err error)

	// Shell opens an interactive pty shell with the given geometry.
	Shell(cols, rows int) (Shell, error)

	// Files opens an SFTP view of the remote filesystem.
	Files() (FS, error)

	// Host returns the profile host this channel is connected to.
	Host() string

	// Close tears down the underlying transport.
	Close() error
}

// Shell is a live interactive shell. Reads return the combined pty output
// stream; Read returns an error (io.EOF on orderly exit) once the remote
// side closes, which is the session manager's death signal.
type Shell interface {
	io.Reader
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
}

// FS is the subset of SFTP operations the file handlers need.
type FS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Mkdir(path string) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// DialFunc opens a channel for a connection profile. The secret is the
// vault-stored password for password-auth profiles and ignored otherwise.
type DialFunc func(conn registry.Connection, secret string) (Conn, error)
