package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptStringRoundTrip(t *testing.T) {
	ciphertext, err := EncryptString("s3cr3t-smtp-password", "operator-passphrase")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "s3cr3t-smtp-password")

	plaintext, err := DecryptString(ciphertext, "operator-passphrase")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-smtp-password", plaintext)
}

func TestEncryptStringIsNonDeterministic(t *testing.T) {
	a, err := EncryptString("same-plaintext", "passphrase")
	require.NoError(t, err)
	b, err := EncryptString("same-plaintext", "passphrase")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "random nonce must differ between calls")
}

func TestDecryptStringWrongPassphraseFails(t *testing.T) {
	ciphertext, err := EncryptString("plaintext", "correct-passphrase")
	require.NoError(t, err)
	_, err = DecryptString(ciphertext, "wrong-passphrase")
	assert.Error(t, err)
}

func TestDecryptStringRejectsTruncatedCiphertext(t *testing.T) {
	_, err := DecryptString("ab", "passphrase")
	assert.Error(t, err)
}

func TestComputeAndVerifyHMAC256(t *testing.T) {
	body := []byte("1700000000.{\"type\":\"email.sent\"}")
	sig := ComputeHMAC256(body, "webhook-secret")
	assert.True(t, VerifyHMAC256(body, "webhook-secret", sig))
	assert.False(t, VerifyHMAC256(body, "wrong-secret", sig))
	assert.False(t, VerifyHMAC256([]byte("tampered"), "webhook-secret", sig))
}

func TestHashAndCheckAPIKey(t *testing.T) {
	hash, err := HashAPIKey("raw-api-key-value")
	require.NoError(t, err)
	assert.True(t, CheckAPIKey(hash, "raw-api-key-value"))
	assert.False(t, CheckAPIKey(hash, "some-other-key"))
}
