// Package terminal owns the lifecycle of interactive shell sessions.
//
// Sessions are keyed by caller-chosen IDs. A session is reserved in the
// table before its channel is dialed so two concurrent creates for the same
// ID cannot both open a shell; the loser fails fast with a duplicate error.
package terminal

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/pkg/remote"
)

// readBuffer sizes the shell output reads. Large enough for bursty pty
// output without chopping escape sequences into too many events.
const readBuffer = 4096

// Publisher is where session events go. Satisfied by *hub.Hub.
type Publisher interface {
	Publish(channel string, payload interface{})
}

// DialFunc opens an authenticated channel to a registered connection.
type DialFunc func(connectionID string) (remote.Conn, error)

// DataEvent is the payload published on terminal:data.
type DataEvent struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

// ClosedEvent is the payload published on terminal:closed.
type ClosedEvent struct {
	SessionID string `json:"sessionId"`
}

type session struct {
	id    string
	conn  remote.Conn
	shell remote.Shell
}

// Manager tracks live sessions and pumps their output to the publisher.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	dial     DialFunc
	pub      Publisher
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(dial DialFunc, pub Publisher, log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		dial:     dial,
		pub:      pub,
		log:      log.With().Str("component", "terminal").Logger(),
	}
}

// Create opens a shell on the given connection under the session ID.
// The ID is reserved before dialing, so a second create with the same ID
// fails immediately with a duplicate error instead of racing the first.
func (m *Manager) Create(id, connectionID string, cols, rows int) error {
	if id == "" {
		return errors.New(errors.ErrValidation, "session id is required")
	}

	s := &session{id: id}

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return errors.New(errors.ErrDuplicateSession,
			fmt.Sprintf("session %q already exists", id))
	}
	m.sessions[id] = s
	m.mu.Unlock()

	conn, err := m.dial(connectionID)
	if err != nil {
		m.release(s)
		return err
	}

	shell, err := conn.Shell(cols, rows)
	if err != nil {
		conn.Close()
		m.release(s)
		return err
	}

	m.mu.Lock()
	if m.sessions[id] != s {
		// Stopped while the channel was still being opened.
		m.mu.Unlock()
		shell.Close()
		conn.Close()
		return errors.New(errors.ErrNotFound,
			fmt.Sprintf("session %q was stopped while opening", id))
	}
	s.conn = conn
	s.shell = shell
	m.mu.Unlock()

	m.log.Info().Str("session", id).Str("host", conn.Host()).Msg("session opened")

	m.wg.Add(1)
	go m.pump(s)
	return nil
}

// pump copies shell output into terminal:data events until the shell dies,
// then announces the close if the session is still registered.
func (m *Manager) pump(s *session) {
	defer m.wg.Done()

	buf := make([]byte, readBuffer)
	for {
		n, err := s.shell.Read(buf)
		if n > 0 {
			m.pub.Publish("terminal:data", DataEvent{
				SessionID: s.id,
				Data:      string(buf[:n]),
			})
		}
		if err != nil {
			break
		}
	}

	// Explicit Stop already removed the session and announced the close;
	// only announce if the remote side went away on its own.
	m.mu.Lock()
	live := m.sessions[s.id] == s
	if live {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	if live {
		s.shell.Close()
		s.conn.Close()
		m.log.Info().Str("session", s.id).Msg("session ended by remote")
		m.pub.Publish("terminal:closed", ClosedEvent{SessionID: s.id})
	}
}

// Write sends input to the session's shell. Writing to an absent session
// is a no-op so racing a close never errors.
func (m *Manager) Write(id string, data []byte) error {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()

	if s == nil || s.shell == nil {
		return nil
	}
	if _, err := s.shell.Write(data); err != nil {
		return errors.WrapWithCode(err, errors.ErrRemoteChannel,
			fmt.Sprintf("write to session %q failed", id))
	}
	return nil
}

// Resize updates the session's pty geometry. No-op for absent sessions.
func (m *Manager) Resize(id string, cols, rows int) error {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()

	if s == nil || s.shell == nil {
		return nil
	}
	if err := s.shell.Resize(cols, rows); err != nil {
		return errors.WrapWithCode(err, errors.ErrRemoteChannel,
			fmt.Sprintf("resize of session %q failed", id))
	}
	return nil
}

// Stop closes a session and announces terminal:closed. Stopping an absent
// session is a no-op. The close event is published exactly once even when
// the pump goroutine is racing a remote-side death.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	s := m.sessions[id]
	if s != nil {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if s == nil {
		return nil
	}

	if s.shell != nil {
		s.shell.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	m.log.Info().Str("session", id).Msg("session stopped")
	m.pub.Publish("terminal:closed", ClosedEvent{SessionID: id})
	return nil
}

// List returns the IDs of live sessions.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopAll closes every live session and waits for the pumps to drain.
// Used during daemon shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.shell != nil {
			s.shell.Close()
		}
		if s.conn != nil {
			s.conn.Close()
		}
		m.pub.Publish("terminal:closed", ClosedEvent{SessionID: s.id})
	}
	m.wg.Wait()
}

// release drops a reservation after a failed open.
func (m *Manager) release(s *session) {
	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()
}
