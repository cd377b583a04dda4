package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitAt(dir))

	_, err := os.Stat(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, GetServerURL())
	assert.False(t, IsLoggedIn())
}

func TestSaveAuthPersists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitAt(dir))

	SetServerURL("https://chat.example.com/")
	require.NoError(t, SaveAuth(AuthConfig{
		AccessToken:  "access",
		RefreshToken: "refresh",
		UserID:       "u1",
		Email:        "neo@example.com",
	}))
	require.NoError(t, SaveAccessToken("access-2"))

	// 重新加载，确认写入了文件
	require.NoError(t, InitAt(dir))
	assert.True(t, IsLoggedIn())
	assert.Equal(t, "https://chat.example.com", GetServerURL())
	assert.Equal(t, "access-2", Get().Auth.AccessToken)
	assert.Equal(t, "refresh", Get().Auth.RefreshToken)
	assert.Equal(t, "u1", Get().Auth.UserID)

	require.NoError(t, ClearAuth())
	require.NoError(t, InitAt(dir))
	assert.False(t, IsLoggedIn())
	assert.Empty(t, Get().Auth.UserID)
}
