// Package crypto holds wallet key storage, EVM transaction signing and the
// HMAC request signing used by the custody API.
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
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	keyFileVersion   = 2
)

// ErrNoKeySource is returned by LoadSecret when neither a raw value nor an
// encrypted file is configured.
var ErrNoKeySource = errors.New("crypto: no key source configured")

// keyFile is the on-disk format of an encrypted wallet secret.
type keyFile struct {
	Version    int    `json:"version"`
	Kind       string `json:"kind"` // "evm" or "solana"
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig tells LoadSecret where a wallet secret lives. Raw wins over
// the encrypted file.
type KeyConfig struct {
	Raw           string
	EncryptedPath string
	Password      string
}

// Configured reports whether any source is set.
func (c KeyConfig) Configured() bool {
	return c.Raw != "" || c.EncryptedPath != ""
}

// EncryptSecret seals secret with a PBKDF2-derived AES-256-GCM key and
// returns the JSON key file.
func EncryptSecret(kind string, secret []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if len(secret) == 0 {
		return nil, errors.New("crypto: empty secret")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Kind:       kind,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, secret, []byte(kind))),
	}, "", "  ")
}

// DecryptSecret opens a key file produced by EncryptSecret. The kind is
// authenticated, so a file sealed for one wallet type cannot be loaded as
// another.
func DecryptSecret(kind string, data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.Kind != kind {
		return nil, fmt.Errorf("crypto: key file holds a %q key, want %q", kf.Kind, kind)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ct, []byte(kind))
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// LoadSecret resolves a secret as text: the raw value as configured, or the
// decrypted file contents.
func LoadSecret(kind string, cfg KeyConfig) (string, error) {
	if cfg.Raw != "" {
		return strings.TrimSpace(cfg.Raw), nil
	}
	if cfg.EncryptedPath == "" {
		return "", ErrNoKeySource
	}
	data, err := os.ReadFile(cfg.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: read key file: %w", err)
	}
	plain, err := DecryptSecret(kind, data, cfg.Password)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// LoadEVMKey resolves a hex secp256k1 key without the 0x prefix.
func LoadEVMKey(cfg KeyConfig) (string, error) {
	k, err := LoadSecret("evm", cfg)
	if err != nil {
		return "", err
	}
	k = strings.TrimPrefix(k, "0x")
	if b, err := hex.DecodeString(k); err != nil || len(b) != 32 {
		return "", errors.New("crypto: evm key must be 32 bytes of hex")
	}
	return k, nil
}
