package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyringManager_GitHubTokenRoundTrip(t *testing.T) {
	km := NewKeyringManager(nil)

	// Check if keychain is available (skip test on CI without keychain)
	if !km.IsAvailable() {
		t.Skip("Keychain not available, skipping test")
	}
	defer km.DeleteGitHubToken()

	require.NoError(t, km.SetGitHubToken("ghp_test123456789"))

	token, err := km.GetGitHubToken()
	require.NoError(t, err)
	assert.Equal(t, "ghp_test123456789", token)

	require.NoError(t, km.DeleteGitHubToken())
	token, err = km.GetGitHubToken()
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestKeyringManager_SetEmptyToken(t *testing.T) {
	km := NewKeyringManager(nil)
	assert.Error(t, km.SetGitHubToken(""))
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", "(not set)"},
		{"short", "abc", "***"},
		{"normal", "ghp_abcdefghijklmnop", "ghp_...mnop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskToken(tt.token))
		})
	}
}
