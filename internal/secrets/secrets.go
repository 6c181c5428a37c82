package secrets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/rewindlabs/rewind/internal/constants"
)

// LoadIdentity returns the age identity used to encrypt stored secrets. The
// REWIND_ENCRYPTION_KEY environment variable wins; otherwise the identity
// file under the data dir is read.
func LoadIdentity(dataDir string) (*age.X25519Identity, error) {
	if identityStr := os.Getenv(constants.EnvVarAgeIdentity); identityStr != "" {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(identityStr))
		if err != nil {
			return nil, fmt.Errorf("failed to parse age identity from %s environment variable: %w", constants.EnvVarAgeIdentity, err)
		}
		return identity, nil
	}

	identityPath := filepath.Join(dataDir, constants.AgeIdentityFile)
	data, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file %s: %w", identityPath, err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identity from %s: %w", identityPath, err)
	}
	return identity, nil
}

// EnsureIdentity loads the identity, generating and persisting a fresh one on
// first daemon start.
func EnsureIdentity(dataDir string) (*age.X25519Identity, error) {
	identity, err := LoadIdentity(dataDir)
	if err == nil {
		return identity, nil
	}

	identity, err = age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate age identity: %w", err)
	}
	identityPath := filepath.Join(dataDir, constants.AgeIdentityFile)
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), constants.ModeFileSecret); err != nil {
		return nil, fmt.Errorf("failed to write identity file %s: %w", identityPath, err)
	}
	return identity, nil
}

// Encrypt encrypts a plain-text value using the provided age recipient.
// It returns the encrypted value as a base64-encoded string for storage.
func Encrypt(value string, recipient age.Recipient) (string, error) {
	var rawBuffer bytes.Buffer
	encryptWriter, err := age.Encrypt(&rawBuffer, recipient)
	if err != nil {
		return "", fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	if _, err = io.WriteString(encryptWriter, value); err != nil {
		return "", fmt.Errorf("failed to write value to encryption writer: %w", err)
	}
	if err := encryptWriter.Close(); err != nil {
		return "", fmt.Errorf("failed to close encryption writer: %w", err)
	}
	encodedValue := base64.StdEncoding.EncodeToString(rawBuffer.Bytes())
	return encodedValue, nil
}

// Decrypt decrypts a base64-encoded secret using the provided age identity.
// It returns the decrypted secret as a string.
func Decrypt(secret string, identity age.Identity) (string, error) {
	encryptedBytes, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 secret: %w", err)
	}

	decryptReader, err := age.Decrypt(bytes.NewReader(encryptedBytes), identity)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}

	var decryptedBuf bytes.Buffer
	if _, err := io.Copy(&decryptedBuf, decryptReader); err != nil {
		return "", fmt.Errorf("failed to read decrypted value: %w", err)
	}

	return decryptedBuf.String(), nil
}
