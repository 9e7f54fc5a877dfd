package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	"wamux/internal/constants"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionSecretEnv names the variable holding the at-rest key material.
const EncryptionSecretEnv = "WAMUX_ENCRYPTION_SECRET"

type encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor() (*encryptor, error) {
	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

// seal returns nonce || ciphertext.
func (e *encryptor) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, constants.EncryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *encryptor) open(data []byte) ([]byte, error) {
	if len(data) < constants.EncryptionNonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := data[:constants.EncryptionNonceSize], data[constants.EncryptionNonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func deriveKey() ([]byte, error) {
	secret := os.Getenv(EncryptionSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EncryptionSecretEnv)
	}
	if len(secret) < constants.MinEncryptionSecret {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", constants.MinEncryptionSecret)
	}

	return pbkdf2.Key([]byte(secret), []byte(constants.EncryptionSalt), constants.EncryptionIterations, constants.EncryptionKeySize, sha256.New), nil
}
