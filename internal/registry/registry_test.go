package registry

import (
	"path/filepath"
	"testing"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, vault.Store, string) {
	t.Helper()
	dir := t.TempDir()

	secrets, err := vault.OpenFileStore(
		filepath.Join(dir, "vault.yaml"),
		filepath.Join(dir, "vault.key"),
	)
	require.NoError(t, err)

	r, err := Open(filepath.Join(dir, "connections.yaml"), secrets)
	require.NoError(t, err)
	return r, secrets, dir
}

func validConnection() Connection {
	return Connection{
		Name:     "build box",
		Host:     "10.0.0.5",
		Port:     22,
		Username: "deploy",
		Kind:     KindSSH,
		Auth:     AuthPassword,
	}
}

func TestAddAllocatesID(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	c, err := r.Add(validConnection())
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "build box", got.Name)
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Connection)
	}{
		{name: "missing name", mutate: func(c *Connection) { c.Name = "" }},
		{name: "missing host", mutate: func(c *Connection) { c.Host = "" }},
		{name: "bad port", mutate: func(c *Connection) { c.Port = 70000 }},
		{name: "bad kind", mutate: func(c *Connection) { c.Kind = "telnet" }},
		{name: "bad auth", mutate: func(c *Connection) { c.Auth = "pigeon" }},
		{name: "key auth without path", mutate: func(c *Connection) { c.Auth = AuthKey; c.KeyPath = "" }},
	}

	r, _, _ := newTestRegistry(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConnection()
			tt.mutate(&c)
			_, err := r.Add(c)
			assert.True(t, errors.IsCode(err, errors.ErrValidation), "got %v", err)
		})
	}
}

func TestGetUnknownID(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	_, err := r.Get("nope")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestUpdate(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	c, err := r.Add(validConnection())
	require.NoError(t, err)

	c.Name = "renamed"
	c.Port = 2222
	require.NoError(t, r.Update(c))

	got, err := r.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2222, got.Port)
}

func TestUpdateUnknownID(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	c := validConnection()
	c.ID = "ghost"
	err := r.Update(c)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestRemoveRevokesSecret(t *testing.T) {
	r, secrets, _ := newTestRegistry(t)

	c, err := r.Add(validConnection())
	require.NoError(t, err)
	require.NoError(t, r.SetSecret(c.ID, "s3cret"))

	require.NoError(t, r.Remove(c.ID))

	_, err = r.Get(c.ID)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))

	_, err = secrets.Get(c.ID)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestRemoveUnknownID(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	err := r.Remove("ghost")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestSecretsRequireExistingConnection(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	err := r.SetSecret("ghost", "x")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))

	_, err = r.GetSecret("ghost")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestListOrderStableAcrossReload(t *testing.T) {
	r, secrets, dir := newTestRegistry(t)

	names := []string{"alpha", "beta", "gamma"}
	for _, n := range names {
		c := validConnection()
		c.Name = n
		_, err := r.Add(c)
		require.NoError(t, err)
	}

	reloaded, err := Open(filepath.Join(dir, "connections.yaml"), secrets)
	require.NoError(t, err)

	got := reloaded.List()
	require.Len(t, got, 3)
	for i, n := range names {
		assert.Equal(t, n, got[i].Name)
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	assert.Empty(t, r.List())
}
