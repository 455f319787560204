// Package crypto is the credential vault: it encrypts and decrypts OAuth
// credential sets at rest using AES-256-GCM authenticated encryption. The key
// is provisioned via environment, never stored next to the ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
)

// ConfigurationError indicates the encryption key is absent or malformed.
// Operations depending on the vault must fail, but the process may keep running.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "vault configuration error: " + e.Reason
}

// EncryptionError indicates an integrity failure: tampered ciphertext or a
// wrong key. Callers must surface it as "reconnect required", never retry.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vault %s failed: authentication or integrity check failed", e.Op)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// Encryptor defines authenticated encryption for data at rest. Implementations
// must provide AEAD so both confidentiality and integrity are guaranteed.
type Encryptor interface {
	// Encrypt transforms plaintext into ciphertext with authentication tag.
	Encrypt(plaintext []byte) ([]byte, error)

	// Decrypt verifies and transforms ciphertext back to plaintext.
	// Returns *EncryptionError if authentication fails.
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	key []byte // 32 bytes for AES-256
}

// NewAESEncryptor creates an encryptor from a base64-encoded 32-byte key.
// Generate one with: openssl rand -base64 32
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, &ConfigurationError{Reason: "encryption key is empty"}
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, &ConfigurationError{Reason: "base64 decode failed: " + err.Error()}
	}

	if len(key) != 32 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("key must be 32 bytes (256 bits), got %d bytes", len(key))}
	}

	return &AESEncryptor{key: key}, nil
}

// Encrypt encrypts plaintext and returns raw bytes in the layout
// nonce || ciphertext || auth_tag. The 12-byte nonce is random per call.
// Callers base64-encode the result before storing it in text columns.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts and authenticates ciphertext produced by Encrypt.
// Any integrity failure returns *EncryptionError; corrupted data is never
// returned silently.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("ciphertext is empty")}
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(ciphertext))}
	}

	nonce := ciphertext[:nonceSize]
	ciphertext = ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Don't expose internal error details that might leak information
		return nil, &EncryptionError{Op: "decrypt"}
	}

	return plaintext, nil
}

// EncryptCredentials serializes a credential map (access_token, refresh_token,
// scope, ...) as JSON, encrypts it, and returns base64 ciphertext suitable for
// a text column.
func EncryptCredentials(enc Encryptor, creds map[string]string) (string, error) {
	if len(creds) == 0 {
		return "", fmt.Errorf("credentials are empty")
	}

	raw, err := json.Marshal(creds)
	if err != nil {
		return "", &EncryptionError{Op: "encrypt", Err: err}
	}

	ciphertext, err := enc.Encrypt(raw)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptCredentials reverses EncryptCredentials. A tampered or wrong-key blob
// yields *EncryptionError.
func DecryptCredentials(enc Encryptor, base64Ciphertext string) (map[string]string, error) {
	if base64Ciphertext == "" {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("ciphertext is empty")}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(base64Ciphertext)
	if err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("base64 decode failed: %w", err)}
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, &EncryptionError{Op: "decrypt", Err: fmt.Errorf("decode credentials: %w", err)}
	}

	return creds, nil
}

// EncryptString encrypts a single string and returns base64 ciphertext.
func EncryptString(enc Encryptor, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	ciphertext, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString base64-decodes and decrypts a string from storage.
func DecryptString(enc Encryptor, base64Ciphertext string) (string, error) {
	if base64Ciphertext == "" {
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(base64Ciphertext)
	if err != nil {
		return "", &EncryptionError{Op: "decrypt", Err: fmt.Errorf("base64 decode failed: %w", err)}
	}

	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
