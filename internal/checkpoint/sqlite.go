package checkpoint

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the journal database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL so journal writes from several workers do not serialize behind
	// a full database lock.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS uploads (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		upload_id TEXT NOT NULL,
		total_size INTEGER NOT NULL,
		part_size INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (bucket, key)
	);

	CREATE TABLE IF NOT EXISTS upload_parts (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		part_number INTEGER NOT NULL,
		etag TEXT NOT NULL,
		size INTEGER NOT NULL,
		PRIMARY KEY (bucket, key, part_number),
		FOREIGN KEY (bucket, key) REFERENCES uploads(bucket, key) ON DELETE CASCADE
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetUpload returns the journaled upload for (bucket, key), or nil if none.
func (s *SQLiteStore) GetUpload(bucket, key string) (*UploadRecord, error) {
	var record *UploadRecord
	err := s.retryOnBusy(func() error {
		query := `
		SELECT bucket, key, upload_id, total_size, part_size, updated_at
		FROM uploads WHERE bucket = ? AND key = ?
		`

		row := s.db.QueryRow(query, bucket, key)

		var r UploadRecord
		err := row.Scan(&r.Bucket, &r.Key, &r.UploadID, &r.TotalSize, &r.PartSize, &r.UpdatedAt)
		if err == sql.ErrNoRows {
			record = nil
			return nil
		}
		if err != nil {
			return err
		}
		record = &r
		return nil
	})
	return record, err
}

// SaveUpload inserts or updates the journaled upload
func (s *SQLiteStore) SaveUpload(record *UploadRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record.UpdatedAt = time.Now()

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO uploads (bucket, key, upload_id, total_size, part_size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			upload_id = excluded.upload_id,
			total_size = excluded.total_size,
			part_size = excluded.part_size,
			updated_at = excluded.updated_at
		`

		_, err := s.db.Exec(query,
			record.Bucket, record.Key, record.UploadID,
			record.TotalSize, record.PartSize, record.UpdatedAt,
		)
		return err
	})
}

// DeleteUpload removes the journaled upload and its parts
func (s *SQLiteStore) DeleteUpload(bucket, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM upload_parts WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM uploads WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// ListParts returns the journaled completed parts ordered by part number
func (s *SQLiteStore) ListParts(bucket, key string) ([]PartRecord, error) {
	var parts []PartRecord
	err := s.retryOnBusy(func() error {
		query := `
		SELECT part_number, etag, size
		FROM upload_parts WHERE bucket = ? AND key = ?
		ORDER BY part_number ASC
		`

		rows, err := s.db.Query(query, bucket, key)
		if err != nil {
			return err
		}
		defer rows.Close()

		parts = parts[:0]
		for rows.Next() {
			var p PartRecord
			if err := rows.Scan(&p.Number, &p.ETag, &p.Size); err != nil {
				return err
			}
			parts = append(parts, p)
		}
		return rows.Err()
	})
	return parts, err
}

// SavePart journals one completed part. Workers call this concurrently;
// writes are serialized to avoid SQLITE_BUSY contention.
func (s *SQLiteStore) SavePart(bucket, key string, part PartRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		query := `
		INSERT INTO upload_parts (bucket, key, part_number, etag, size)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key, part_number) DO UPDATE SET
			etag = excluded.etag,
			size = excluded.size
		`

		_, err := s.db.Exec(query, bucket, key, part.Number, part.ETag, part.Size)
		return err
	})
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryOnBusy retries the operation if SQLite reports the database busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	const maxRetries = 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		if !isSQLiteBusyError(err) || attempt == maxRetries-1 {
			return err
		}

		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}
