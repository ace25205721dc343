package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePrefersKeyring(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{{Key: "admin_token", Data: []byte("from-ring")}})
	store := NewStore(ring, "admin_token", "from-env")

	token, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-ring", token)
}

func TestStoreFallsBackWhenMissing(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	store := NewStore(ring, "user_token", " from-env ")

	token, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", token)
}

func TestStoreWithoutAnyToken(t *testing.T) {
	store := NewStore(keyring.NewArrayKeyring(nil), "user_token", "")
	_, err := store.Token(context.Background())
	assert.True(t, errors.Is(err, ErrNoToken))

	nilRing := NewStore(nil, "user_token", "")
	_, err = nilRing.Token(context.Background())
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestStoreSaveAndDelete(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	store := NewStore(ring, "user_token", "")

	require.NoError(t, store.Save("abc"))
	token, err := store.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, store.Delete())
	_, err = store.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)

	assert.Error(t, store.Save("  "))
	assert.Error(t, NewStore(nil, "k", "").Save("abc"))
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStore(nil, "k", "v").Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
