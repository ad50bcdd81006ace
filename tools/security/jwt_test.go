package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = DefaultOptions([]byte("unit-test-secret"))

func TestGenerateVerifyRoundTrip(t *testing.T) {
	token, hash, exp, err := Generate(testOpts, "u1", "Ada")
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Verify(testOpts, token, hash)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject())
	assert.Equal(t, "Ada", claims.Name())
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, _, err := Generate(testOpts, "u1", "")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("another-secret")), token, "")
	assert.Error(t, err)
}

func TestVerifyRejectsHashMismatch(t *testing.T) {
	token, _, _, err := Generate(testOpts, "u1", "")
	require.NoError(t, err)

	_, err = Verify(testOpts, token, HashToken("some other token"))
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	opts := testOpts
	opts.TTL = time.Millisecond
	token, _, _, err := Generate(opts, "u1", "")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond) // exp has one-second resolution
	_, err = Verify(testOpts, token, "")
	assert.Error(t, err)
}

func TestGenerateRejectsUnknownAlg(t *testing.T) {
	opts := testOpts
	opts.Alg = "RS256"
	_, _, _, err := Generate(opts, "u1", "")
	assert.Error(t, err)
}

func TestNameClaimIsOptional(t *testing.T) {
	token, _, _, err := Generate(testOpts, "u1", "")
	require.NoError(t, err)

	claims, err := Verify(testOpts, token, "")
	require.NoError(t, err)
	assert.Empty(t, claims.Name())
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Contains(t, HashToken("abc"), "sha256:")
}
