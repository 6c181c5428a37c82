package store

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rewindlabs/rewind/internal/secrets"
)

const secretsSchema = `
CREATE TABLE IF NOT EXISTS secrets (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,    -- age-encrypted, base64
	digest TEXT NOT NULL,   -- md5 of the plaintext, safe to display
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// ErrNoIdentity is returned when a secrets operation needs the encryption
// identity and the store was opened without one.
var ErrNoIdentity = errors.New("no encryption identity loaded")

func createSecretsTable(s *Store) error {
	if _, err := s.Exec(secretsSchema); err != nil {
		return fmt.Errorf("failed to create secrets table: %w", err)
	}
	return nil
}

// SecretInfo describes a stored secret without exposing its value.
type SecretInfo struct {
	Name      string    `db:"name" json:"name"`
	Digest    string    `db:"digest" json:"digest"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func digestValue(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}

// SetSecret encrypts and stores a secret, replacing any existing value under
// the same name.
func (s *Store) SetSecret(name, value string) error {
	if s.identity == nil {
		return ErrNoIdentity
	}
	encrypted, err := secrets.Encrypt(value, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("failed to encrypt secret %s: %w", name, err)
	}

	now := time.Now()
	query := `INSERT INTO secrets (name, value, digest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			digest = excluded.digest,
			updated_at = excluded.updated_at`
	if _, err := s.Exec(query, name, encrypted, digestValue(value), now, now); err != nil {
		return fmt.Errorf("failed to save secret %s: %w", name, err)
	}
	return nil
}

// GetSecretDecryptedValue returns the plaintext for a stored secret.
func (s *Store) GetSecretDecryptedValue(name string) (string, error) {
	if s.identity == nil {
		return "", ErrNoIdentity
	}
	var encrypted string
	err := s.Get(&encrypted, `SELECT value FROM secrets WHERE name = ?`, name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	value, err := secrets.Decrypt(encrypted, s.identity)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret %s: %w", name, err)
	}
	return value, nil
}

// GetSecretsList returns every secret's name and digest, never the values.
func (s *Store) GetSecretsList() ([]SecretInfo, error) {
	var list []SecretInfo
	query := `SELECT name, digest, updated_at FROM secrets ORDER BY name ASC`
	if err := s.Select(&list, query); err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	return list, nil
}

func (s *Store) DeleteSecret(name string) error {
	result, err := s.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SecretExists(name string) (bool, error) {
	var count int
	if err := s.Get(&count, `SELECT COUNT(*) FROM secrets WHERE name = ?`, name); err != nil {
		return false, fmt.Errorf("failed to check secret %s: %w", name, err)
	}
	return count > 0, nil
}
