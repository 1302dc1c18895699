package users

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDirectory(t *testing.T) *SQLiteDirectory {
	d, err := OpenSQLiteDirectory(filepath.Join(t.TempDir(), "users.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestRememberAndLookup(t *testing.T) {
	d := openTestDirectory(t)
	ctx := context.Background()

	first := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return first }
	require.NoError(t, d.Remember(ctx, "02aa", "CipherVault101"))

	user, err := d.Lookup(ctx, "02aa")
	require.NoError(t, err)
	assert.Equal(t, "02aa", user.PublicKey)
	assert.Equal(t, "CipherVault101", user.Username)
	assert.True(t, first.Equal(user.CreatedAt))
	assert.True(t, first.Equal(user.LastLoginAt))
}

func TestRemember_UpdatesLastLogin(t *testing.T) {
	d := openTestDirectory(t)
	ctx := context.Background()

	first := time.Unix(1_700_000_000, 0)
	second := first.Add(time.Hour)

	d.now = func() time.Time { return first }
	require.NoError(t, d.Remember(ctx, "02aa", "CipherVault101"))
	d.now = func() time.Time { return second }
	require.NoError(t, d.Remember(ctx, "02aa", "CipherVault101"))

	user, err := d.Lookup(ctx, "02aa")
	require.NoError(t, err)
	assert.True(t, first.Equal(user.CreatedAt))
	assert.True(t, second.Equal(user.LastLoginAt))

	n, err := d.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLookup_Unknown(t *testing.T) {
	d := openTestDirectory(t)

	_, err := d.Lookup(context.Background(), "03ff")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := OpenSQLiteDirectory("", nil)
	assert.Error(t, err)
}
