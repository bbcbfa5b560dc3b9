package contentstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// SQLiteStore is a local content store for rehearsals and tests
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dbPath and ensures the schema.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: create directory for %s: %w", utils.ErrFilesystem, dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %w", utils.ErrDatabase, err)
	}
	// Serialize writers; modernc sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", utils.ErrDatabase, pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			slug           TEXT NOT NULL UNIQUE,
			image_url      TEXT,
			link           TEXT,
			details        TEXT NOT NULL DEFAULT '{}',
			gallery_images TEXT NOT NULL DEFAULT '[]',
			is_visible     TEXT NOT NULL DEFAULT 'public',
			display_order  INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %w", utils.ErrDatabase, err)
	}
	return nil
}

// ListProjects implements Store
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]models.ProjectRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, slug, COALESCE(image_url, ''), COALESCE(link, ''),
		        details, gallery_images, is_visible, display_order
		 FROM projects
		 ORDER BY display_order ASC, slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list projects: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var records []models.ProjectRecord
	for rows.Next() {
		var rec models.ProjectRecord
		var details, gallery string
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Slug, &rec.ImageURL, &rec.Link,
			&details, &gallery, &rec.IsVisible, &rec.DisplayOrder); err != nil {
			return nil, fmt.Errorf("%w: scan project: %w", utils.ErrDatabase, err)
		}
		if err := decodeJSONColumns(&rec, []byte(details), []byte(gallery)); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list projects: %w", utils.ErrDatabase, err)
	}
	return records, nil
}

// UpsertProject implements Store
func (s *SQLiteStore) UpsertProject(ctx context.Context, rec models.ProjectRecord) error {
	details, gallery, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, title, slug, image_url, link, details, gallery_images, is_visible, display_order)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slug) DO UPDATE SET
		   title = excluded.title,
		   image_url = excluded.image_url,
		   link = excluded.link,
		   details = excluded.details,
		   gallery_images = excluded.gallery_images,
		   is_visible = excluded.is_visible,
		   display_order = excluded.display_order`,
		rec.ID, rec.Title, rec.Slug, rec.ImageURL, rec.Link, string(details), string(gallery), rec.IsVisible, rec.DisplayOrder,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert project %s: %w", utils.ErrDatabase, rec.Slug, err)
	}
	return nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
