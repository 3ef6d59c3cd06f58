package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// EncryptionKeyEnvVar is the environment variable for the state
	// encryption key.
	EncryptionKeyEnvVar = "STACKFORM_STATE_ENCRYPTION_KEY"

	encryptedHeader = "# STACKFORM_ENCRYPTED_STATE\n"
)

// EncryptState encrypts state content using AES-256-GCM with a key from the
// environment. Returns the original content if no key is configured.
func EncryptState(content []byte) ([]byte, error) {
	key := encryptionKey()
	if key == nil {
		return content, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, content, nil)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return []byte(encryptedHeader + encoded + "\n"), nil
}

// DecryptState decrypts state content if it is encrypted; plaintext content
// passes through untouched.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	key := encryptionKey()
	if key == nil {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := strings.TrimPrefix(string(content), encryptedHeader)
	encoded = strings.TrimSpace(encoded)
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plaintext, nil
}

// IsEncrypted checks whether state content carries the encryption header.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}

// encryptionKey returns the 32-byte AES key from the environment, or nil.
// Shorter keys are zero-padded, longer keys truncated.
func encryptionKey() []byte {
	keyStr := os.Getenv(EncryptionKeyEnvVar)
	if keyStr == "" {
		return nil
	}
	key := make([]byte, 32)
	copy(key, []byte(keyStr))
	return key
}
