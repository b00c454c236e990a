package secret

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	b, err := NewWithKey(bytes.Repeat([]byte{7}, KeySize))
	require.NoError(t, err)
	return b
}

func TestSealOpenRoundTrip(t *testing.T) {
	b := testBox(t)
	sealed, err := b.Seal("hunter2")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sealed, EncryptedPrefix))
	require.NotContains(t, sealed, "hunter2")

	plain, err := b.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "hunter2", plain)
}

func TestSealUsesFreshNonce(t *testing.T) {
	b := testBox(t)
	s1, err := b.Seal("same")
	require.NoError(t, err)
	s2, err := b.Seal("same")
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestOpenLegacyPlaintext(t *testing.T) {
	plain, err := testBox(t).Open("stored-in-clear")
	require.NoError(t, err)
	require.Equal(t, "stored-in-clear", plain)
}

func TestPassThroughBox(t *testing.T) {
	b, err := New("", "")
	require.NoError(t, err)
	require.False(t, b.Enabled())
	sealed, err := b.Seal("pw")
	require.NoError(t, err)
	require.Equal(t, "pw", sealed)

	_, err = b.Open(EncryptedPrefix + "AAAA")
	require.ErrorIs(t, err, ErrNoKey)
}

func TestOpenTampered(t *testing.T) {
	b := testBox(t)
	sealed, err := b.Seal("pw")
	require.NoError(t, err)

	other, err := NewWithKey(bytes.Repeat([]byte{9}, KeySize))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = b.Open(EncryptedPrefix + "not base64!")
	require.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = b.Open(EncryptedPrefix + "AAAA")
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewWithKeyLength(t *testing.T) {
	_, err := NewWithKey([]byte("short"))
	require.Error(t, err)
}
