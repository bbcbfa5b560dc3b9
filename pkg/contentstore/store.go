// Package contentstore reads and writes project records in the site's content database.
package contentstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Store is the content-store collaborator
type Store interface {
	// ListProjects returns every record ordered by display order
	ListProjects(ctx context.Context) ([]models.ProjectRecord, error)

	// UpsertProject inserts rec or, when its slug exists, updates that row in place
	UpsertProject(ctx context.Context, rec models.ProjectRecord) error

	Close() error
}

// encodeJSONColumns serializes the JSON columns of a record; nil values become {} and [].
func encodeJSONColumns(rec models.ProjectRecord) (details, gallery []byte, err error) {
	d := rec.Details
	if d == nil {
		d = map[string]string{}
	}
	g := rec.Gallery
	if g == nil {
		g = []json.RawMessage{}
	}
	if details, err = json.Marshal(d); err != nil {
		return nil, nil, fmt.Errorf("%w: encode details of %s: %w", utils.ErrParsing, rec.Slug, err)
	}
	if gallery, err = json.Marshal(g); err != nil {
		return nil, nil, fmt.Errorf("%w: encode gallery of %s: %w", utils.ErrParsing, rec.Slug, err)
	}
	return details, gallery, nil
}

// decodeJSONColumns fills the JSON columns of rec. Empty or null columns leave the zero value.
func decodeJSONColumns(rec *models.ProjectRecord, details, gallery []byte) error {
	if len(details) > 0 && string(details) != "null" {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return fmt.Errorf("%w: details of %s: %w", utils.ErrParsing, rec.Slug, err)
		}
	}
	if len(gallery) > 0 && string(gallery) != "null" {
		if err := json.Unmarshal(gallery, &rec.Gallery); err != nil {
			return fmt.Errorf("%w: gallery of %s: %w", utils.ErrParsing, rec.Slug, err)
		}
	}
	return nil
}
