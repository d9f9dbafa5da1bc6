// Package crypto implements the envelope encryption scheme spec.md §6
// describes for secrets at rest (connection URLs, admin passwords): a
// random per-secret data encryption key (DEK) encrypts the payload with
// AES-256-GCM, and a master key from the environment wraps that DEK with
// its own AES-256-GCM layer. Grounded on
// original_source/redis_sre_agent/core/encryption.py.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// CurrentVersion is the only envelope schema version this package accepts.
// Decoders reject anything else rather than guess (spec.md §9 Open Question).
const CurrentVersion = "v1"

// ErrUnsupportedVersion is returned when an envelope's version field does
// not match CurrentVersion.
var ErrUnsupportedVersion = errors.New("crypto: unsupported envelope version")

// ErrInvalidMasterKey is returned when the configured master key is not
// exactly 32 bytes once base64-decoded.
var ErrInvalidMasterKey = errors.New("crypto: master key must be 32 bytes")

// envelope is the base64-of-JSON wire format documented in spec.md §6
// "Encryption envelope".
type envelope struct {
	Version     string `json:"version"`
	Ciphertext  string `json:"ciphertext"`
	Nonce       string `json:"nonce"`
	WrappedDEK  string `json:"wrapped_dek"`
	DEKNonce    string `json:"dek_nonce"`
}

// Sealer encrypts and decrypts secrets using a fixed master key. Construct
// one per process from the REDIS_SRE_MASTER_KEY configuration value.
type Sealer struct {
	masterKey []byte
}

// NewSealer builds a Sealer from a base64-encoded 32-byte master key.
func NewSealer(masterKeyBase64 string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode master key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidMasterKey
	}
	return &Sealer{masterKey: key}, nil
}

// Encrypt seals plaintext into a base64-encoded envelope. Two calls with the
// same plaintext yield different ciphertexts because both the DEK and both
// nonces are freshly randomized.
func (s *Sealer) Encrypt(plaintext string) (string, error) {
	dek := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return "", fmt.Errorf("crypto: generate dek: %w", err)
	}

	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	ciphertext, err := seal(dek, nonce, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("crypto: encrypt secret: %w", err)
	}

	dekNonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, dekNonce); err != nil {
		return "", fmt.Errorf("crypto: generate dek nonce: %w", err)
	}
	wrappedDEK, err := seal(s.masterKey, dekNonce, dek)
	if err != nil {
		return "", fmt.Errorf("crypto: wrap dek: %w", err)
	}

	env := envelope{
		Version:    CurrentVersion,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		WrappedDEK: base64.StdEncoding.EncodeToString(wrappedDEK),
		DEKNonce:   base64.StdEncoding.EncodeToString(dekNonce),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("crypto: marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decrypt opens a base64-encoded envelope produced by Encrypt. It never
// falls back silently: a version mismatch or AEAD failure is always
// returned as an error (spec.md §7 "Encryption failure").
func (s *Sealer) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: decode envelope: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("crypto: unmarshal envelope: %w", err)
	}
	if env.Version != CurrentVersion {
		return "", ErrUnsupportedVersion
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decode ciphertext: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decode nonce: %w", err)
	}
	wrappedDEK, err := base64.StdEncoding.DecodeString(env.WrappedDEK)
	if err != nil {
		return "", fmt.Errorf("crypto: decode wrapped dek: %w", err)
	}
	dekNonce, err := base64.StdEncoding.DecodeString(env.DEKNonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decode dek nonce: %w", err)
	}

	dek, err := open(s.masterKey, dekNonce, wrappedDEK)
	if err != nil {
		return "", fmt.Errorf("crypto: unwrap dek: %w", err)
	}
	plaintext, err := open(dek, nonce, ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt secret: %w", err)
	}
	return string(plaintext), nil
}

// IsEnvelope reports whether data looks like a base64-of-JSON envelope
// produced by Encrypt, used to detect legacy plaintext rows that still need
// migration (spec.md §3 "Instance").
func IsEnvelope(data string) bool {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return false
	}
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	_, hasVersion := env["version"]
	_, hasCiphertext := env["ciphertext"]
	_, hasWrapped := env["wrapped_dek"]
	return hasVersion && hasCiphertext && hasWrapped
}

func seal(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
