package store

import (
	"errors"
	"fmt"
	"path/filepath"

	"filippo.io/age"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
const dbName = "rewind.db"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the engine's durable state: executions with their append-only
// steps, monitoring-rule fire timestamps, the release registry, and encrypted
// secrets.
type Store struct {
	*sqlx.DB
	identity *age.X25519Identity
}

// New opens (or creates) the SQLite database under dataDir. The identity is
// used to encrypt and decrypt stored secrets; it may be nil for read paths
// that never touch secrets.
func New(dataDir string, identity *age.X25519Identity) (*Store, error) {
	dbFile := filepath.Join(dataDir, dbName)
	database, err := sqlx.Open(driverName, dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := database.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	return &Store{DB: database, identity: identity}, nil
}

func (s *Store) Migrate() error {
	migrations := []func(*Store) error{
		createExecutionsTable,
		createStepsTable,
		createRuleStateTable,
		createReleasesTable,
		createSecretsTable,
	}
	for _, migration := range migrations {
		if err := migration(s); err != nil {
			return err
		}
	}
	return nil
}
