// Package vault stores connection secrets encrypted at rest, keyed by
// connection id. Secrets never co-locate with the connection profile list;
// the registry only ever references them indirectly through this store.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ricardoborges/nautilus/internal/errors"
	"gopkg.in/yaml.v3"
)

// Store is the secret store interface consumed by the registry and the
// remote dialer. Implementations must be safe for concurrent use.
type Store interface {
	Get(id string) (string, error)
	Set(id, secret string) error
	Delete(id string) error
}

// FileStore persists AES-GCM sealed secrets in a YAML file. The master key
// lives in a separate key file created on first use.
type FileStore struct {
	mu     sync.Mutex
	path   string
	cipher *Cipher
	// id -> hex(nonce || ciphertext)
	sealed map[string]string
}

// vaultFile is the on-disk layout.
type vaultFile struct {
	Secrets map[string]string `yaml:"secrets"`
}

// OpenFileStore loads (or initializes) the secret store at path using the
// master key at keyPath. A missing key file is created with a fresh random
// key and 0600 permissions.
func OpenFileStore(path, keyPath string) (*FileStore, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}

	s := &FileStore{
		path:   path,
		cipher: NewCipher(key),
		sealed: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrVault, "cannot read vault file")
	}

	var f vaultFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrVault, "vault file is corrupt")
	}
	if f.Secrets != nil {
		s.sealed = f.Secrets
	}

	return s, nil
}

// Get returns the plaintext secret for a connection id.
func (s *FileStore) Get(id string) (string, error) {
	s.mu.Lock()
	sealed, ok := s.sealed[id]
	s.mu.Unlock()

	if !ok {
		return "", errors.New(errors.ErrNotFound, "no secret stored for connection "+id)
	}
	return s.cipher.Open(sealed)
}

// Set seals and persists a secret for a connection id.
func (s *FileStore) Set(id, secret string) error {
	sealed, err := s.cipher.Seal(secret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[id] = sealed
	return s.flushLocked()
}

// Delete removes a secret. Deleting an absent id is not an error; revoking
// on connection removal must be idempotent.
func (s *FileStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sealed[id]; !ok {
		return nil
	}
	delete(s.sealed, id)
	return s.flushLocked()
}

// flushLocked writes the sealed map to disk atomically. Caller holds s.mu.
func (s *FileStore) flushLocked() error {
	data, err := yaml.Marshal(vaultFile{Secrets: s.sealed})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrVault, "cannot encode vault")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.WrapWithCode(err, errors.ErrVault, "cannot write vault file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.WrapWithCode(err, errors.ErrVault, "cannot replace vault file")
	}
	return nil
}

// loadOrCreateKey reads the hex-encoded master key, generating one when the
// key file does not exist yet.
func loadOrCreateKey(keyPath string) ([]byte, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, decErr := hex.DecodeString(string(trimNewline(data)))
		if decErr != nil || len(key) != KeySize {
			return nil, errors.New(errors.ErrVault,
				"vault key file is malformed; remove it to generate a new key (stored secrets will be lost)")
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.WrapWithCode(err, errors.ErrVault, "cannot read vault key file")
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrVault, "cannot generate vault key")
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrVault, "cannot create vault key directory")
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrVault, "cannot write vault key file")
	}

	return key, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
