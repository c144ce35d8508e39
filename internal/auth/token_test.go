package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndAuthenticate(t *testing.T) {
	iss, err := NewIssuer(time.Hour)
	require.NoError(t, err)

	id := NewDeviceID()
	tok, err := iss.Issue(id)
	require.NoError(t, err)

	got, err := iss.Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestExpiredTokenRejected(t *testing.T) {
	iss, err := NewIssuer(time.Minute)
	require.NoError(t, err)
	now := time.Now()
	iss.Now = func() time.Time { return now }

	tok, err := iss.Issue("device-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = iss.Authenticate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestForeignKeyRejected(t *testing.T) {
	a, err := NewIssuer(0)
	require.NoError(t, err)
	b, err := NewIssuer(0)
	require.NoError(t, err)

	tok, err := a.Issue("device-1")
	require.NoError(t, err)
	_, err = b.Authenticate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Authenticate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoadIssuer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir := t.TempDir()
	privPath, pubPath := filepath.Join(dir, "key"), filepath.Join(dir, "key.pub")
	require.NoError(t, os.WriteFile(privPath, priv, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pub, 0o644))

	iss, err := LoadIssuer(privPath, pubPath, 0)
	require.NoError(t, err)
	tok, err := iss.Issue("device-2")
	require.NoError(t, err)
	got, err := iss.Authenticate(tok)
	require.NoError(t, err)
	assert.Equal(t, "device-2", got)

	_, err = LoadIssuer(filepath.Join(dir, "missing"), pubPath, 0)
	assert.Error(t, err)
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"", 0, false},
		{"never", 0, false},
		{"0", 0, false},
		{"72h", 72 * time.Hour, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTTL(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
