package database

import (
	"database/sql"
	"fmt"

	"streamvault/work/types"
)

const preferredProviderKey = "preferred_provider"

// SavePosition upserts the playhead for one piece of content.
func (db *DB) SavePosition(ref types.ContentRef, position, duration float64) error {
	_, err := db.Exec(`
		INSERT INTO playback_positions (content_key, kind, content_id, season, episode, position, duration, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(content_key) DO UPDATE SET
			position = excluded.position,
			duration = excluded.duration,
			updated_at = CURRENT_TIMESTAMP
	`, ref.Key(), ref.Kind.String(), ref.ID, ref.Season, ref.Episode, position, duration)
	if err != nil {
		return fmt.Errorf("failed to save position for %s: %w", ref.Key(), err)
	}
	return nil
}

// LoadPosition returns the saved playhead for one piece of content.
// Content never watched returns sql.ErrNoRows.
func (db *DB) LoadPosition(ref types.ContentRef) (float64, float64, error) {
	var position, duration float64
	err := db.QueryRow(`
		SELECT position, duration FROM playback_positions WHERE content_key = ?
	`, ref.Key()).Scan(&position, &duration)
	if err != nil {
		return 0, 0, err
	}
	return position, duration, nil
}

// PreferredProvider returns the persisted provider preference, or ""
// when none was ever set.
func (db *DB) PreferredProvider() (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, preferredProviderKey).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load preferred provider: %w", err)
	}
	return v, nil
}

// SetPreferredProvider persists the provider preference.
func (db *DB) SetPreferredProvider(id string) error {
	_, err := db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, preferredProviderKey, id)
	if err != nil {
		return fmt.Errorf("failed to persist preferred provider: %w", err)
	}
	return nil
}

// RecordNoRefererHost persists one observed Referer-rejecting host.
func (db *DB) RecordNoRefererHost(host string) error {
	_, err := db.Exec(`
		INSERT INTO no_referer_hosts (host) VALUES (?)
		ON CONFLICT(host) DO NOTHING
	`, host)
	if err != nil {
		return fmt.Errorf("failed to record no-referer host %s: %w", host, err)
	}
	return nil
}

// NoRefererHosts returns every persisted Referer-rejecting host.
func (db *DB) NoRefererHosts() ([]string, error) {
	rows, err := db.Query(`SELECT host FROM no_referer_hosts`)
	if err != nil {
		return nil, fmt.Errorf("failed to load no-referer hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}
