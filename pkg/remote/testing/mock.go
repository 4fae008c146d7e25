// Package testing provides in-memory doubles for the remote package so the
// session manager, the metrics poller, and the command handlers can be
// exercised without a live host.
package testing

import (
	"errors"
	"io"
	"regexp"
	"sync"

	"github.com/ricardoborges/nautilus/pkg/remote"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
}

// MockConn simulates an authenticated channel for testing.
type MockConn struct {
	mu       sync.Mutex
	host     string
	closed   bool
	commands map[string]CommandResponse // pattern -> response
	shells   []*MockShell
	fs       *MockFS

	// ExecFunc, when set, intercepts every Exec call. Useful for
	// sequencing failures across poll cycles.
	ExecFunc func(cmd string) (stdout, stderr []byte, exitCode int, err error)

	// EchoShellWrites feeds every shell write back into the shell output,
	// approximating a remote pty echoing input.
	EchoShellWrites bool
}

// NewMockConn creates a mock channel to the named host.
func NewMockConn(host string) *MockConn {
	return &MockConn{
		host:     host,
		commands: make(map[string]CommandResponse),
		fs:       NewMockFS(),
	}
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockConn) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// Exec returns the canned response for cmd, defaulting to empty success.
func (m *MockConn) Exec(cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	execFn := m.ExecFunc
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, nil, -1, errors.New("connection closed")
	}
	if execFn != nil {
		return execFn(cmd)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if resp, ok := m.commands[cmd]; ok {
		return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
	}
	for pattern, resp := range m.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
		}
	}
	return nil, nil, 0, nil
}

// ExecStream runs Exec and copies the output to the writers.
func (m *MockConn) ExecStream(cmd string, stdout, stderr io.Writer) (int, error) {
	out, errOut, code, err := m.Exec(cmd)
	if err != nil {
		return -1, err
	}
	if stdout != nil && len(out) > 0 {
		_, _ = stdout.Write(out)
	}
	if stderr != nil && len(errOut) > 0 {
		_, _ = stderr.Write(errOut)
	}
	return code, nil
}

// Shell opens a new mock shell.
func (m *MockConn) Shell(cols, rows int) (remote.Shell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("connection closed")
	}

	s := NewMockShell()
	s.cols, s.rows = cols, rows
	s.echo = m.EchoShellWrites
	m.shells = append(m.shells, s)
	return s, nil
}

// Files returns the in-memory filesystem.
func (m *MockConn) Files() (remote.FS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("connection closed")
	}
	return m.fs, nil
}

// FS returns the mock filesystem for direct manipulation in tests.
func (m *MockConn) FS() *MockFS { return m.fs }

// Host returns the mock host name.
func (m *MockConn) Host() string { return m.host }

// Close marks the connection as closed.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called. Tests use this to assert
// channels are not leaked across target switches.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Shells returns every shell opened on this connection.
func (m *MockConn) Shells() []*MockShell {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockShell, len(m.shells))
	copy(out, m.shells)
	return out
}

// MockShell is an in-memory interactive shell. Output fed via Feed is
// readable through Read; writes are recorded for assertions.
type MockShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu         sync.Mutex
	written    []byte
	cols, rows int
	closed     bool
	echo       bool
}

// NewMockShell creates an open mock shell.
func NewMockShell() *MockShell {
	pr, pw := io.Pipe()
	return &MockShell{pr: pr, pw: pw}
}

// Read blocks until output is fed or the shell dies.
func (s *MockShell) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Write records the input bytes.
func (s *MockShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("shell closed")
	}
	s.written = append(s.written, p...)
	echo := s.echo
	s.mu.Unlock()

	if echo {
		s.Feed(p)
	}
	return len(p), nil
}

// Resize records the new geometry.
func (s *MockShell) Resize(cols, rows int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("shell closed")
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Close ends the output stream with io.EOF, like an orderly remote exit.
func (s *MockShell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.pw.Close()
}

// Feed injects remote output readable through Read.
func (s *MockShell) Feed(p []byte) {
	_, _ = s.pw.Write(p)
}

// Fail ends the output stream with err, simulating a dying channel.
func (s *MockShell) Fail(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.pw.CloseWithError(err)
}

// Written returns everything written to the shell so far.
func (s *MockShell) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.written))
	copy(out, s.written)
	return out
}

// Geometry returns the current (cols, rows).
func (s *MockShell) Geometry() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Closed reports whether the shell has been closed or failed.
func (s *MockShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
