package tokensource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestNewKeyStore(t *testing.T) {
	store, err := NewKeyStore("", "")
	require.NoError(t, err)
	assert.Equal(t, &EnvStore{Name: DefaultKeyEnv}, store)

	store, err = NewKeyStore(StorageEnv, "MY_KEY")
	require.NoError(t, err)
	assert.Equal(t, &EnvStore{Name: "MY_KEY"}, store)

	store, err = NewKeyStore(StorageFile, "/tmp/key")
	require.NoError(t, err)
	assert.Equal(t, &FileStore{Path: "/tmp/key"}, store)

	store, err = NewKeyStore(StorageKeyring, "ignored")
	require.NoError(t, err)
	assert.Equal(t, &KeyringStore{Service: KeyringService, User: KeyringUser}, store)

	_, err = NewKeyStore(StorageFile, "")
	assert.Error(t, err)

	_, err = NewKeyStore("vault", "")
	assert.ErrorContains(t, err, `unknown key storage "vault"`)
}

func TestEnvStore(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "  abc123\n")
	store := &EnvStore{Name: "TEST_UPSTREAM_KEY"}

	key, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	assert.ErrorIs(t, store.Write(context.Background(), "new"), ErrReadOnly)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "key")
	store := &FileStore{Path: path}

	key, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, key, "a missing file means no key")

	require.NoError(t, store.Write(ctx, "secret"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	key, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "secret", key)

	require.NoError(t, store.Write(ctx, ""))
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, store.Write(ctx, ""), "clearing twice is not an error")
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	store := &KeyringStore{Service: KeyringService, User: KeyringUser}

	key, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, store.Write(ctx, "from-keyring"))
	key, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", key)

	require.NoError(t, store.Write(ctx, ""))
	key, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, store.Write(ctx, ""))
}
