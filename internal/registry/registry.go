// Package registry persists connection profiles and delegates secret
// storage to the vault. Profiles never contain secrets; a profile and its
// secret share the connection id as the common key.
package registry

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/vault"
	"gopkg.in/yaml.v3"
)

// Kind is the protocol kind of a connection.
type Kind string

const (
	// KindSSH marks a shell-capable host.
	KindSSH Kind = "ssh"
	// KindRDP marks a remote-desktop host.
	KindRDP Kind = "rdp"
)

// AuthMethod selects how the remote channel authenticates.
type AuthMethod string

const (
	// AuthPassword authenticates with the vault-stored password.
	AuthPassword AuthMethod = "password"
	// AuthKey authenticates with the private key at KeyPath.
	AuthKey AuthMethod = "key"
	// AuthAgent authenticates via the local SSH agent and ~/.ssh/config.
	AuthAgent AuthMethod = "agent"
)

// Connection is a persisted profile describing how to reach and
// authenticate to one remote host.
type Connection struct {
	ID          string     `yaml:"id" json:"id"`
	Name        string     `yaml:"name" json:"name"`
	Host        string     `yaml:"host" json:"host"`
	Port        int        `yaml:"port" json:"port"`
	Username    string     `yaml:"username" json:"username"`
	Kind        Kind       `yaml:"kind" json:"kind"`
	Auth        AuthMethod `yaml:"auth" json:"auth"`
	KeyPath     string     `yaml:"keyPath,omitempty" json:"keyPath,omitempty"`
	AutoConnect bool       `yaml:"autoConnect,omitempty" json:"autoConnect,omitempty"`
}

// Registry is a YAML-backed store of connection profiles.
//
// Removing a connection revokes its vault secret but does not stop terminal
// sessions already opened against it: a session snapshots its auth config at
// open time and disconnect is a separate operation from delete.
type Registry struct {
	mu      sync.RWMutex
	path    string
	secrets vault.Store
	// insertion-ordered ids so List is stable across restarts
	order []string
	byID  map[string]Connection
}

type registryFile struct {
	Connections []Connection `yaml:"connections"`
}

// Open loads the registry at path, creating an empty one when the file does
// not exist yet.
func Open(path string, secrets vault.Store) (*Registry, error) {
	r := &Registry{
		path:    path,
		secrets: secrets,
		byID:    make(map[string]Connection),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "cannot read connections file")
	}

	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "connections file is not valid YAML")
	}

	for _, c := range f.Connections {
		r.order = append(r.order, c.ID)
		r.byID[c.ID] = c
	}

	return r, nil
}

// List returns all profiles in stable order.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Get returns the profile for id.
func (r *Registry) Get(id string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return Connection{}, errors.New(errors.ErrNotFound, "connection "+id+" not found")
	}
	return c, nil
}

// Add validates the profile, allocates a fresh id, and persists it. The
// caller stores the secret separately via SetSecret.
func (r *Registry) Add(c Connection) (Connection, error) {
	if err := validate(c); err != nil {
		return Connection{}, err
	}

	c.ID = uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = append(r.order, c.ID)
	r.byID[c.ID] = c

	if err := r.flushLocked(); err != nil {
		delete(r.byID, c.ID)
		r.order = r.order[:len(r.order)-1]
		return Connection{}, err
	}
	return c, nil
}

// Update replaces the profile for c.ID.
func (r *Registry) Update(c Connection) error {
	if err := validate(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[c.ID]; !ok {
		return errors.New(errors.ErrNotFound, "connection "+c.ID+" not found")
	}
	prev := r.byID[c.ID]
	r.byID[c.ID] = c

	if err := r.flushLocked(); err != nil {
		r.byID[c.ID] = prev
		return err
	}
	return nil
}

// Remove deletes the profile and revokes its vault secret.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return errors.New(errors.ErrNotFound, "connection "+id+" not found")
	}

	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if err := r.flushLocked(); err != nil {
		return err
	}

	// Secret revocation is best-effort; the profile is already gone.
	return r.secrets.Delete(id)
}

// SetSecret stores the secret for an existing connection id.
func (r *Registry) SetSecret(id, secret string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	return r.secrets.Set(id, secret)
}

// GetSecret returns the stored secret for a connection id.
func (r *Registry) GetSecret(id string) (string, error) {
	if _, err := r.Get(id); err != nil {
		return "", err
	}
	return r.secrets.Get(id)
}

func (r *Registry) flushLocked() error {
	f := registryFile{Connections: make([]Connection, 0, len(r.order))}
	for _, id := range r.order {
		f.Connections = append(f.Connections, r.byID[id])
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "cannot encode connections")
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "cannot create config directory")
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "cannot write connections file")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "cannot replace connections file")
	}
	return nil
}

func validate(c Connection) error {
	if c.Name == "" {
		return errors.New(errors.ErrValidation, "connection name is required")
	}
	if c.Host == "" {
		return errors.New(errors.ErrValidation, "connection host is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.New(errors.ErrValidation, "connection port is out of range")
	}
	switch c.Kind {
	case KindSSH, KindRDP:
	default:
		return errors.New(errors.ErrValidation, "connection kind must be ssh or rdp")
	}
	switch c.Auth {
	case AuthPassword, AuthAgent:
	case AuthKey:
		if c.KeyPath == "" {
			return errors.New(errors.ErrValidation, "key auth requires a key path")
		}
	default:
		return errors.New(errors.ErrValidation, "auth method must be password, key, or agent")
	}
	return nil
}
