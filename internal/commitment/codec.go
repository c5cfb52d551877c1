// Package commitment implements the cryptographic half of the commit-reveal
// scheme: salt generation, commitment-hash derivation, and encrypted-at-rest
// salt round-tripping with a server-held key.
package commitment

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/boxmeout/marketcore/internal/domain"
)

const (
	// saltBytes is the length of a prediction salt: 256 bits of CSPRNG output.
	saltBytes = 32
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the AES-256 key length.
	aesKeyLen = 32
)

// ErrDecryptionFailed signals malformed or tampered ciphertext/nonce on salt
// decryption. It is fatal: the caller must never substitute a default salt.
var ErrDecryptionFailed = errors.New("commitment: salt decryption failed")

// GenerateSalt returns a fresh 256-bit cryptographically secure random salt,
// hex-encoded.
func GenerateSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("commitment: generating salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash derives the commitment hash binding a user's hidden outcome choice to
// its salt: SHA-256 over the canonical "userID:marketID:outcome:salt"
// concatenation, hex-encoded. Any single-field change produces an unrelated
// digest.
func Hash(userID, marketID string, outcome domain.Outcome, salt string) string {
	msg := strings.Join([]string{
		userID,
		marketID,
		strconv.Itoa(int(outcome)),
		salt,
	}, ":")
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}

// KeyConfig carries the information NewCodec needs to resolve the server-held
// salt-encryption key.
type KeyConfig struct {
	// RawKey is the hex-encoded 32-byte AES key. If non-empty it is used
	// directly.
	RawKey string

	// Passphrase and KDFSalt derive the key via PBKDF2-HMAC-SHA256 when no
	// raw key is configured. KDFSalt is hex-encoded and must stay stable for
	// the lifetime of the stored ciphertexts.
	Passphrase string
	KDFSalt    string
}

// Codec encrypts and decrypts prediction salts with AES-256-GCM under a
// server-held key. The GCM nonce travels alongside the ciphertext as the
// prediction's decryption parameter.
type Codec struct {
	key []byte
}

// NewCodec resolves the encryption key from cfg. A raw hex key takes
// precedence; otherwise the key is derived from the passphrase.
func NewCodec(cfg KeyConfig) (*Codec, error) {
	if cfg.RawKey != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(cfg.RawKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("commitment: raw key is not valid hex: %w", err)
		}
		if len(key) != aesKeyLen {
			return nil, fmt.Errorf("commitment: expected %d-byte key, got %d bytes", aesKeyLen, len(key))
		}
		return &Codec{key: key}, nil
	}

	if cfg.Passphrase == "" {
		return nil, errors.New("commitment: no key source configured (set RawKey or Passphrase)")
	}
	kdfSalt, err := hex.DecodeString(cfg.KDFSalt)
	if err != nil {
		return nil, fmt.Errorf("commitment: kdf salt is not valid hex: %w", err)
	}
	if len(kdfSalt) == 0 {
		return nil, errors.New("commitment: kdf salt must not be empty")
	}

	key := pbkdf2.Key([]byte(cfg.Passphrase), kdfSalt, pbkdf2Iterations, aesKeyLen, sha256.New)
	return &Codec{key: key}, nil
}

// EncryptSalt seals the salt with AES-256-GCM, returning the base64-encoded
// ciphertext and nonce.
func (c *Codec) EncryptSalt(salt string) (ciphertext, nonce string, err error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", "", err
	}

	nonceBytes := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", fmt.Errorf("commitment: generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonceBytes, []byte(salt), nil)
	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonceBytes),
		nil
}

// DecryptSalt reverses EncryptSalt. Malformed encodings, a wrong-length
// nonce, or a failed GCM authentication all surface as ErrDecryptionFailed.
func (c *Codec) DecryptSalt(ciphertext, nonce string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding ciphertext: %v", ErrDecryptionFailed, err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("%w: decoding nonce: %v", ErrDecryptionFailed, err)
	}
	if len(nonceBytes) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: nonce length %d", ErrDecryptionFailed, len(nonceBytes))
	}

	plain, err := gcm.Open(nil, nonceBytes, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

func (c *Codec) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("commitment: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("commitment: creating GCM: %w", err)
	}
	return gcm, nil
}
