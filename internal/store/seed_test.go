package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedUsers(t *testing.T) {
	s := newSQLiteStore(t)
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"users": [
			{"id": "father", "name": "Father", "language": "ja", "style_preset": "biz_formal"},
			{"id": "daughter", "name": "Daughter", "language": "en", "style_preset": "emoji_casual"},
			{"id": "", "name": "skipped"},
			{"id": "guest"}
		]
	}`), 0o600))

	n, err := SeedUsers(context.Background(), s, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	guest, err := s.GetUser(context.Background(), "guest")
	require.NoError(t, err)
	require.NotNil(t, guest)
	assert.Equal(t, "guest", guest.Name)
	assert.Equal(t, "casual", guest.StylePreset)

	daughter, err := s.GetUser(context.Background(), "daughter")
	require.NoError(t, err)
	assert.Equal(t, "emoji_casual", daughter.StylePreset)
}

func TestSeedUsersErrors(t *testing.T) {
	s := newSQLiteStore(t)

	_, err := SeedUsers(context.Background(), s, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o600))
	_, err = SeedUsers(context.Background(), s, bad)
	assert.Error(t, err)
}
