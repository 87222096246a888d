package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTestConfig points every command at a fresh database without a cache.
func useTestConfig(t *testing.T) {
	t.Helper()
	conf := &util.AppConfig{}
	conf.Conf.Protocol = "https"
	conf.Conf.SslDomain = "example.com"
	conf.Conf.DbPath = filepath.Join(t.TempDir(), "fedgate.db")
	conf.Conf.KeyBits = 1024

	previous := loadConfig
	loadConfig = func() (*util.AppConfig, error) { return conf, nil }
	t.Cleanup(func() { loadConfig = previous })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootShowsHelp(t *testing.T) {
	out, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	for _, sub := range []string{"serve", "actor", "post", "follow", "queue"} {
		assert.Contains(t, out, sub)
	}
}

func TestActorLifecycle(t *testing.T) {
	useTestConfig(t)

	out, err := run(t, "actor", "create", "alice", "--name", "Alice", "--keys")
	require.NoError(t, err)
	assert.Contains(t, out, "Created https://example.com/users/alice")

	_, err = run(t, "actor", "create", "bob")
	require.NoError(t, err)

	_, err = run(t, "actor", "create", "alice")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = run(t, "actor", "create", "Not Valid")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	out, err = run(t, "actor", "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "DisplayName: Alice")
	assert.Contains(t, out, "Keys: true")

	out, err = run(t, "actor", "list")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, strings.Fields(out))

	_, err = run(t, "actor", "show", "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostAndFollow(t *testing.T) {
	useTestConfig(t)

	_, err := run(t, "actor", "create", "alice")
	require.NoError(t, err)
	_, err = run(t, "actor", "create", "bob")
	require.NoError(t, err)

	out, err := run(t, "follow", "bob", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "https://example.com/users/bob follows https://example.com/users/alice")

	out, err = run(t, "post", "alice", "hello", "world")
	require.NoError(t, err)
	assert.Contains(t, out, "Published https://example.com/users/alice/notes/")

	_, err = run(t, "post", "alice", " ", " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = run(t, "post", "nobody", "hello")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = run(t, "follow", "alice", "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	out, err = run(t, "actor", "show", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Followers: 1")

	out, err = run(t, "queue")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending 0")
}
