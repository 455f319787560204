package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	enc, err := NewAESEncryptor(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error = %v", err)
	}
	return enc
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantError bool
		errorMsg  string
	}{
		{
			name:      "empty key",
			key:       "",
			wantError: true,
			errorMsg:  "encryption key is empty",
		},
		{
			name:      "invalid base64",
			key:       "not-valid-base64!@#$",
			wantError: true,
			errorMsg:  "base64 decode failed",
		},
		{
			name:      "key too short",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 16)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "key too long",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 64)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "valid 32-byte key",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 32)),
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.wantError {
				if err == nil {
					t.Fatal("NewAESEncryptor() expected error but got nil")
				}
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("NewAESEncryptor() error type = %T, want *ConfigurationError", err)
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAESEncryptor() unexpected error = %v", err)
			}
			if enc == nil {
				t.Error("NewAESEncryptor() returned nil encryptor")
			}
		})
	}
}

func TestCredentials_RoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	tests := []struct {
		name  string
		creds map[string]string
	}{
		{
			name: "token set",
			creds: map[string]string{
				"access_token":  "ya29.a0AfH6SMBx",
				"refresh_token": "1//0gFake",
				"scope":         "tweet.read tweet.write offline.access",
			},
		},
		{
			name:  "single entry",
			creds: map[string]string{"access_token": "abc"},
		},
		{
			name: "unicode and specials",
			creds: map[string]string{
				"access_token": "héllo-wörld !@#$%^&*()",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob, err := EncryptCredentials(enc, tt.creds)
			if err != nil {
				t.Fatalf("EncryptCredentials() error = %v", err)
			}
			if blob == "" {
				t.Fatal("EncryptCredentials() returned empty blob")
			}
			// Ciphertext must not leak plaintext
			for _, v := range tt.creds {
				if strings.Contains(blob, v) {
					t.Errorf("ciphertext contains plaintext value %q", v)
				}
			}

			got, err := DecryptCredentials(enc, blob)
			if err != nil {
				t.Fatalf("DecryptCredentials() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.creds) {
				t.Errorf("round trip mismatch: got %v, want %v", got, tt.creds)
			}
		})
	}
}

func TestEncryptCredentials_Empty(t *testing.T) {
	enc := newTestEncryptor(t)
	if _, err := EncryptCredentials(enc, nil); err == nil {
		t.Error("EncryptCredentials(nil) expected error, got nil")
	}
}

// Flipping any single byte of the ciphertext must fail authentication.
func TestDecrypt_TamperedCiphertext(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt([]byte("secret-token-material"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	for i := range ciphertext {
		tampered := make([]byte, len(ciphertext))
		copy(tampered, ciphertext)
		tampered[i] ^= 0x01

		out, err := enc.Decrypt(tampered)
		if err == nil {
			t.Fatalf("Decrypt() with byte %d flipped returned data instead of error: %q", i, out)
		}
		var encErr *EncryptionError
		if !errors.As(err, &encErr) {
			t.Fatalf("Decrypt() tampered byte %d: error type = %T, want *EncryptionError", i, err)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1 := newTestEncryptor(t)
	enc2 := newTestEncryptor(t)

	blob, err := EncryptCredentials(enc1, map[string]string{"access_token": "tok"})
	if err != nil {
		t.Fatalf("EncryptCredentials() error = %v", err)
	}

	_, err = DecryptCredentials(enc2, blob)
	var encErr *EncryptionError
	if !errors.As(err, &encErr) {
		t.Errorf("DecryptCredentials() with wrong key: error = %v, want *EncryptionError", err)
	}
}

func TestDecryptCredentials_BadInput(t *testing.T) {
	enc := newTestEncryptor(t)

	tests := []struct {
		name string
		blob string
	}{
		{name: "empty", blob: ""},
		{name: "not base64", blob: "%%%not-base64%%%"},
		{name: "too short", blob: base64.StdEncoding.EncodeToString([]byte{0x01, 0x02})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecryptCredentials(enc, tt.blob)
			var encErr *EncryptionError
			if !errors.As(err, &encErr) {
				t.Errorf("DecryptCredentials(%q) error = %v, want *EncryptionError", tt.blob, err)
			}
		})
	}
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	enc := newTestEncryptor(t)

	a, err := enc.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := enc.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if string(a) == string(b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestStringHelpers_RoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	blob, err := EncryptString(enc, "refresh-me")
	if err != nil {
		t.Fatalf("EncryptString() error = %v", err)
	}
	got, err := DecryptString(enc, blob)
	if err != nil {
		t.Fatalf("DecryptString() error = %v", err)
	}
	if got != "refresh-me" {
		t.Errorf("DecryptString() = %q, want %q", got, "refresh-me")
	}

	// Empty passthrough mirrors empty-column semantics.
	if out, err := EncryptString(enc, ""); err != nil || out != "" {
		t.Errorf("EncryptString(\"\") = (%q, %v), want (\"\", nil)", out, err)
	}
	if out, err := DecryptString(enc, ""); err != nil || out != "" {
		t.Errorf("DecryptString(\"\") = (%q, %v), want (\"\", nil)", out, err)
	}
}
