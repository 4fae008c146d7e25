package remote

import (
	"io"
	"sync"

	"github.com/ricardoborges/nautilus/internal/errors"
	"golang.org/x/crypto/ssh"
)

// sshShell is a live interactive shell over one ssh.Session with a pty.
// With a pty allocated the remote merges stderr into the pty stream, so
// stdout is the only output pipe.
type sshShell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

// Shell opens an interactive pty shell with the given geometry.
func (c *sshConn) Shell(cols, rows int) (Shell, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel,
			"failed to create SSH session")
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel,
			"failed to allocate PTY for shell")
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel,
			"failed to open shell stdin")
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel,
			"failed to open shell stdout")
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, errors.WrapWithCode(err, errors.ErrRemoteChannel,
			"failed to start shell")
	}

	return &sshShell{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

// Read returns the combined pty output. io.EOF means the remote shell
// exited; any other error means the channel died underneath us.
func (s *sshShell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Resize updates the remote pty geometry.
func (s *sshShell) Resize(cols, rows int) error {
	if err := s.session.WindowChange(rows, cols); err != nil {
		return errors.WrapWithCode(err, errors.ErrRemoteChannel, "failed to resize pty")
	}
	return nil
}

// Close tears the shell down. Idempotent; the reader unblocks with an
// error once the session closes.
func (s *sshShell) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}
