package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eaglenode/vpsd/vps"
)

// InstanceRow represents one managed instance in the vps table.
type InstanceRow struct {
	Name        string `json:"name"`
	OwnerID     string `json:"owner_id"`
	Image       string `json:"image"`
	CreatedAt   string `json:"created_at"`
	ContainerID string `json:"container_id"`
	ShortID     string `json:"short_id"`
	Meta        string `json:"meta"`
}

// Save replaces the stored registry with the given snapshot. The write
// is transactional: either the whole snapshot lands or nothing does.
// Save and Load make *DB satisfy the vps.Store interface.
func (db *DB) Save(records map[string]vps.Record) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM vps"); err != nil {
		return fmt.Errorf("failed to clear vps table: %w", err)
	}

	for _, rec := range records {
		meta, err := encodeMeta(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.Name, err)
		}
		_, err = tx.Exec(`
			INSERT INTO vps (name, owner_id, image, created_at, container_id, short_id, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Name, rec.OwnerID, rec.Image, rec.CreatedAt.Format(time.RFC3339Nano),
			rec.Container.ID, rec.Container.ShortID, meta)
		if err != nil {
			return fmt.Errorf("failed to insert instance %s: %w", rec.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load returns the stored registry snapshot.
func (db *DB) Load() (map[string]vps.Record, error) {
	rows, err := db.conn.Query(`
		SELECT name, owner_id, image, created_at, container_id, short_id, meta FROM vps
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make(map[string]vps.Record)
	for rows.Next() {
		var row InstanceRow
		if err := rows.Scan(&row.Name, &row.OwnerID, &row.Image, &row.CreatedAt,
			&row.ContainerID, &row.ShortID, &row.Meta); err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}
		rec, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		records[rec.Name] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate instance rows: %w", err)
	}
	return records, nil
}

// Import upserts a registry snapshot into the vps table without
// touching rows it does not mention. This is the offline migration
// path from the JSON state file; re-running it with the same input
// reproduces the same row set (replace-on-conflict).
func (db *DB) Import(records map[string]vps.Record) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	count := 0
	for _, rec := range records {
		meta, err := encodeMeta(rec.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata for %s: %w", rec.Name, err)
		}
		_, err = tx.Exec(`
			INSERT OR REPLACE INTO vps (name, owner_id, image, created_at, container_id, short_id, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.Name, rec.OwnerID, rec.Image, rec.CreatedAt.Format(time.RFC3339Nano),
			rec.Container.ID, rec.Container.ShortID, meta)
		if err != nil {
			return 0, fmt.Errorf("failed to import instance %s: %w", rec.Name, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, nil
}

func encodeMeta(meta map[string]interface{}) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func rowToRecord(row InstanceRow) (vps.Record, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return vps.Record{}, fmt.Errorf("invalid created_at for %s: %w", row.Name, err)
	}
	var meta map[string]interface{}
	if row.Meta != "" && row.Meta != "{}" {
		if err := json.Unmarshal([]byte(row.Meta), &meta); err != nil {
			return vps.Record{}, fmt.Errorf("invalid meta for %s: %w", row.Name, err)
		}
	}
	return vps.Record{
		Name:      row.Name,
		OwnerID:   row.OwnerID,
		Image:     row.Image,
		CreatedAt: createdAt,
		Container: vps.ContainerRef{ID: row.ContainerID, ShortID: row.ShortID},
		Metadata:  meta,
	}, nil
}
