package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := ParseKeyHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)
	sealed, err := Seal(key, []byte("see you at the interview"))
	require.NoError(t, err)

	plain, err := Open(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "see you at the interview", string(plain))
}

func TestSealIsRandomized(t *testing.T) {
	key := testKey(t)
	a, err := Seal(key, []byte("same input"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealed, err := Seal(testKey(t), []byte("secret"))
	require.NoError(t, err)

	other, err := ParseKeyHex(strings.Repeat("cd", 32))
	require.NoError(t, err)
	_, err = Open(other, sealed)
	assert.ErrorIs(t, err, ErrBadCiphertext)
}

func TestOpenRejectsGarbage(t *testing.T) {
	key := testKey(t)
	for _, s := range []string{"", "not base64!!", "QQ==", hex.EncodeToString([]byte("hexnotb64"))} {
		_, err := Open(key, s)
		assert.ErrorIs(t, err, ErrBadCiphertext, "input %q", s)
	}
}

func TestParseKeyHex(t *testing.T) {
	_, err := ParseKeyHex("abcd")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = ParseKeyHex("zz" + strings.Repeat("ab", 31))
	assert.ErrorIs(t, err, ErrBadKey)
}
