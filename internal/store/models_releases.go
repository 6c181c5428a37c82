package store

import (
	"database/sql"
	"fmt"
	"time"
)

const releasesSchema = `
CREATE TABLE IF NOT EXISTS releases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',  -- web, ios, android for frontend services, empty otherwise
	version TEXT NOT NULL,
	stable INTEGER NOT NULL DEFAULT 0,  -- Known-good marker, rollbacks only target stable releases
	released_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_releases_service ON releases (service, platform);
`

func createReleasesTable(s *Store) error {
	if _, err := s.Exec(releasesSchema); err != nil {
		return fmt.Errorf("failed to create releases table: %w", err)
	}
	return nil
}

// Release is one entry in the version registry.
type Release struct {
	ID         int64     `db:"id" json:"id"`
	Service    string    `db:"service" json:"service"`
	Platform   string    `db:"platform" json:"platform,omitempty"`
	Version    string    `db:"version" json:"version"`
	Stable     bool      `db:"stable" json:"stable"`
	ReleasedAt time.Time `db:"released_at" json:"released_at"`
}

func (s *Store) AddRelease(release Release) error {
	query := `INSERT INTO releases (service, platform, version, stable, released_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.Exec(query, release.Service, release.Platform, release.Version, release.Stable, release.ReleasedAt)
	if err != nil {
		return fmt.Errorf("failed to add release %s for %s: %w", release.Version, release.Service, err)
	}
	return nil
}

// CurrentVersion returns the newest release for a service and platform, or
// ErrNotFound if the registry has never seen one.
func (s *Store) CurrentVersion(service, platform string) (Release, error) {
	var release Release
	query := `SELECT * FROM releases WHERE service = ? AND platform = ? ORDER BY id DESC LIMIT 1`
	err := s.Get(&release, query, service, platform)
	if err != nil {
		if err == sql.ErrNoRows {
			return Release{}, ErrNotFound
		}
		return Release{}, fmt.Errorf("failed to get current version for %s: %w", service, err)
	}
	return release, nil
}

// PreviousStableVersion returns the newest stable release older than the
// current one, the version a rollback restores. ErrNotFound means there is
// nothing to roll back to.
func (s *Store) PreviousStableVersion(service, platform string) (Release, error) {
	current, err := s.CurrentVersion(service, platform)
	if err != nil {
		return Release{}, err
	}

	var release Release
	query := `SELECT * FROM releases
		WHERE service = ? AND platform = ? AND stable = 1 AND version != ?
		ORDER BY id DESC LIMIT 1`
	err = s.Get(&release, query, service, platform, current.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return Release{}, ErrNotFound
		}
		return Release{}, fmt.Errorf("failed to get previous stable version for %s: %w", service, err)
	}
	return release, nil
}

// ListReleases returns the newest releases for a service across all
// platforms, newest first. A limit of 0 means no limit.
func (s *Store) ListReleases(service string, limit int) ([]Release, error) {
	query := `SELECT * FROM releases WHERE service = ? ORDER BY id DESC`
	args := []any{service}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var releases []Release
	if err := s.Select(&releases, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list releases for %s: %w", service, err)
	}
	return releases, nil
}
