// Package crypto manages participant signing keys: loading them from raw hex
// or a password-encrypted keystore file, and signing relay authorizations.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keystoreVersion  = 1
)

// ErrDecrypt is returned when a keystore cannot be opened with the given
// password.
var ErrDecrypt = errors.New("crypto: decryption failed")

// keystoreFile is the on-disk format written by EncryptKey. Binary fields
// are base64 standard encoding.
type keystoreFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where LoadSigner finds the participant key. A raw key wins
// over a keystore file.
type KeySource struct {
	RawPrivateKey string
	KeystorePath  string
	Password      string
}

// deriveAEAD stretches password with salt into an AES-256-GCM cipher.
func deriveAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex-encoded private key under password and returns the
// keystore JSON.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keyBytes, _ := hex.DecodeString(signer.PrivateKeyHex())

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := deriveAEAD(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(keystoreFile{
		Version:    keystoreVersion,
		Address:    signer.Address().Hex(),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}, "", "  ")
}

// DecryptKey opens keystore JSON produced by EncryptKey and returns the
// private key as hex without 0x prefix.
func DecryptKey(keystoreJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var ks keystoreFile
	if err := json.Unmarshal(keystoreJSON, &ks); err != nil {
		return "", fmt.Errorf("crypto: parsing keystore: %w", err)
	}
	if ks.Version != keystoreVersion {
		return "", fmt.Errorf("crypto: unsupported keystore version %d", ks.Version)
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{
		{"salt", ks.Salt, &salt},
		{"nonce", ks.Nonce, &nonce},
		{"ciphertext", ks.Ciphertext, &ciphertext},
	} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decoding %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := deriveAEAD(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce must be %d bytes", gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w (wrong password?)", ErrDecrypt)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadSigner resolves src into a Signer.
func LoadSigner(src KeySource) (*Signer, error) {
	if src.RawPrivateKey != "" {
		return NewSigner(src.RawPrivateKey)
	}
	if src.KeystorePath != "" {
		data, err := os.ReadFile(src.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading keystore: %w", err)
		}
		keyHex, err := DecryptKey(data, src.Password)
		if err != nil {
			return nil, err
		}
		return NewSigner(keyHex)
	}
	return nil, errors.New("crypto: no key source configured (set a raw key or a keystore path)")
}

// normalizeHex strips whitespace and a 0x prefix.
func normalizeHex(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "0x")
}
