package contentstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// PostgresStore is the production store (the site's Postgres database)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool and verifies it with a ping.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %w", utils.ErrDatabase, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", utils.ErrDatabase, err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the projects table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS projects (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			slug           TEXT NOT NULL UNIQUE,
			image_url      TEXT,
			link           TEXT,
			details        JSONB NOT NULL DEFAULT '{}'::jsonb,
			gallery_images JSONB NOT NULL DEFAULT '[]'::jsonb,
			is_visible     TEXT NOT NULL DEFAULT 'public',
			display_order  INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("%w: ensure schema: %w", utils.ErrDatabase, err)
	}
	return nil
}

// ListProjects implements Store
func (s *PostgresStore) ListProjects(ctx context.Context) ([]models.ProjectRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, COALESCE(title, ''), slug, COALESCE(image_url, ''), COALESCE(link, ''),
		        details, gallery_images, COALESCE(is_visible::text, ''), COALESCE(display_order, 0)
		 FROM projects
		 ORDER BY display_order ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list projects: %w", utils.ErrDatabase, err)
	}
	defer rows.Close()

	var records []models.ProjectRecord
	for rows.Next() {
		var rec models.ProjectRecord
		var details, gallery []byte
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Slug, &rec.ImageURL, &rec.Link,
			&details, &gallery, &rec.IsVisible, &rec.DisplayOrder); err != nil {
			return nil, fmt.Errorf("%w: failed to scan project: %w", utils.ErrDatabase, err)
		}
		if err := decodeJSONColumns(&rec, details, gallery); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to list projects: %w", utils.ErrDatabase, err)
	}
	return records, nil
}

// UpsertProject implements Store
func (s *PostgresStore) UpsertProject(ctx context.Context, rec models.ProjectRecord) error {
	details, gallery, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO projects (id, title, slug, image_url, link, details, gallery_images, is_visible, display_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (slug) DO UPDATE SET
		   title = EXCLUDED.title,
		   image_url = EXCLUDED.image_url,
		   link = EXCLUDED.link,
		   details = EXCLUDED.details,
		   gallery_images = EXCLUDED.gallery_images,
		   is_visible = EXCLUDED.is_visible,
		   display_order = EXCLUDED.display_order`,
		rec.ID, rec.Title, rec.Slug, rec.ImageURL, rec.Link, details, gallery, rec.IsVisible, rec.DisplayOrder,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert project %s: %w", utils.ErrDatabase, rec.Slug, err)
	}
	return nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
