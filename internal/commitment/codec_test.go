package commitment

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxmeout/marketcore/internal/domain"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(KeyConfig{
		RawKey: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
	})
	require.NoError(t, err)
	return c
}

func TestGenerateSalt(t *testing.T) {
	s1, err := GenerateSalt()
	require.NoError(t, err)
	s2, err := GenerateSalt()
	require.NoError(t, err)

	raw, err := hex.DecodeString(s1)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.NotEqual(t, s1, s2)
}

func TestHashDeterministicAndFieldSensitive(t *testing.T) {
	base := Hash("user-1", "market-1", domain.OutcomeYes, "aabbcc")

	assert.Equal(t, base, Hash("user-1", "market-1", domain.OutcomeYes, "aabbcc"))
	assert.NotEqual(t, base, Hash("user-2", "market-1", domain.OutcomeYes, "aabbcc"))
	assert.NotEqual(t, base, Hash("user-1", "market-2", domain.OutcomeYes, "aabbcc"))
	assert.NotEqual(t, base, Hash("user-1", "market-1", domain.OutcomeNo, "aabbcc"))
	assert.NotEqual(t, base, Hash("user-1", "market-1", domain.OutcomeYes, "aabbcd"))
}

func TestHashRecoversExactlyOneOutcome(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	for _, committed := range []domain.Outcome{domain.OutcomeNo, domain.OutcomeYes} {
		want := Hash("user-1", "market-1", committed, salt)

		matches := 0
		var recovered domain.Outcome
		for _, candidate := range []domain.Outcome{domain.OutcomeNo, domain.OutcomeYes} {
			if Hash("user-1", "market-1", candidate, salt) == want {
				matches++
				recovered = candidate
			}
		}
		require.Equal(t, 1, matches)
		assert.Equal(t, committed, recovered)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCodec(t)

	salt, err := GenerateSalt()
	require.NoError(t, err)

	ciphertext, nonce, err := c.EncryptSalt(salt)
	require.NoError(t, err)
	assert.NotEqual(t, salt, ciphertext)

	got, err := c.DecryptSalt(ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, salt, got)
}

func TestEncryptSaltNonceVaries(t *testing.T) {
	c := testCodec(t)

	ct1, n1, err := c.EncryptSalt("same-salt")
	require.NoError(t, err)
	ct2, n2, err := c.EncryptSalt("same-salt")
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
	assert.NotEqual(t, ct1, ct2)
}

func TestDecryptSaltFailures(t *testing.T) {
	c := testCodec(t)

	ciphertext, nonce, err := c.EncryptSalt("secret")
	require.NoError(t, err)

	t.Run("malformed ciphertext encoding", func(t *testing.T) {
		_, err := c.DecryptSalt("!!not-base64!!", nonce)
		assert.True(t, errors.Is(err, ErrDecryptionFailed))
	})

	t.Run("malformed nonce", func(t *testing.T) {
		_, err := c.DecryptSalt(ciphertext, base64.StdEncoding.EncodeToString([]byte("x")))
		assert.True(t, errors.Is(err, ErrDecryptionFailed))
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		raw, decErr := base64.StdEncoding.DecodeString(ciphertext)
		require.NoError(t, decErr)
		raw[0] ^= 0xff
		_, err := c.DecryptSalt(base64.StdEncoding.EncodeToString(raw), nonce)
		assert.True(t, errors.Is(err, ErrDecryptionFailed))
	})

	t.Run("wrong key", func(t *testing.T) {
		other, cErr := NewCodec(KeyConfig{
			RawKey: "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		})
		require.NoError(t, cErr)
		_, err := other.DecryptSalt(ciphertext, nonce)
		assert.True(t, errors.Is(err, ErrDecryptionFailed))
	})
}

func TestNewCodecKeyResolution(t *testing.T) {
	t.Run("raw key wrong length", func(t *testing.T) {
		_, err := NewCodec(KeyConfig{RawKey: "aabb"})
		assert.Error(t, err)
	})

	t.Run("raw key not hex", func(t *testing.T) {
		_, err := NewCodec(KeyConfig{RawKey: "zz"})
		assert.Error(t, err)
	})

	t.Run("passphrase derivation is stable", func(t *testing.T) {
		cfg := KeyConfig{Passphrase: "hunter2", KDFSalt: "00112233445566778899aabbccddeeff"}
		c1, err := NewCodec(cfg)
		require.NoError(t, err)
		c2, err := NewCodec(cfg)
		require.NoError(t, err)

		ct, nonce, err := c1.EncryptSalt("secret")
		require.NoError(t, err)
		got, err := c2.DecryptSalt(ct, nonce)
		require.NoError(t, err)
		assert.Equal(t, "secret", got)
	})

	t.Run("no key source", func(t *testing.T) {
		_, err := NewCodec(KeyConfig{})
		assert.Error(t, err)
	})
}
