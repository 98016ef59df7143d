package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"tunet/internal/domain"
	"tunet/internal/repository"

	_ "modernc.org/sqlite"
)

var _ repository.Repository = (*Repository)(nil)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS device_names (
		mac TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// GetSetting returns the value stored under key and whether it exists
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key, replacing any previous value
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key; deleting a missing key is not an error
func (r *Repository) DeleteSetting(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// LoadDeviceNames returns the whole rename map. Rows whose MAC no longer
// parses are skipped.
func (r *Repository) LoadDeviceNames(ctx context.Context) (map[domain.MacAddress]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT mac, name FROM device_names`)
	if err != nil {
		return nil, fmt.Errorf("failed to query device names: %w", err)
	}
	defer rows.Close()

	names := make(map[domain.MacAddress]string)
	for rows.Next() {
		var rawMac, name string
		if err := rows.Scan(&rawMac, &name); err != nil {
			return nil, fmt.Errorf("failed to scan device name: %w", err)
		}
		mac, err := parseStoredMac(rawMac)
		if err != nil {
			log.Printf("Skipping device name with bad mac %q: %v", rawMac, err)
			continue
		}
		names[mac] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device names: %w", err)
	}

	return names, nil
}

// SaveDeviceName stores the display name for mac
func (r *Repository) SaveDeviceName(ctx context.Context, mac domain.MacAddress, name string) error {
	if mac.IsUnknown() {
		return errUnknownMac
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_names (mac, name, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(mac) DO UPDATE SET
			name = excluded.name,
			updated_at = CURRENT_TIMESTAMP
	`, macToKey(mac), name)
	if err != nil {
		return fmt.Errorf("failed to save device name for %s: %w", mac, err)
	}
	return nil
}

// DeleteDeviceName forgets the display name for mac
func (r *Repository) DeleteDeviceName(ctx context.Context, mac domain.MacAddress) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM device_names WHERE mac = ?`, macToKey(mac)); err != nil {
		return fmt.Errorf("failed to delete device name for %s: %w", mac, err)
	}
	return nil
}
