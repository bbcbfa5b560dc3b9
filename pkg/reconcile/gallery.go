package reconcile

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// Dimensions used when a derivative's size was never recorded
const (
	DefaultWidth  = 1200
	DefaultHeight = 800
)

// URLIndex maps projects-relative files to public URLs
type URLIndex map[string]string

// IndexMappings keeps the mappings that are live in the object store: uploaded now or
// skipped as unchanged. Dry-run and failed entries carry a URL that does not resolve yet.
func IndexMappings(mappings []models.UploadRecord) URLIndex {
	idx := make(URLIndex, len(mappings))
	for _, m := range mappings {
		if m.File == "" || m.PublicURL == "" || m.DryRun {
			continue
		}
		if !m.Uploaded && !(m.Skipped && m.Error == "") {
			continue
		}
		idx[utils.ToPosix(m.File)] = m.PublicURL
	}
	return idx
}

// Resolve looks up a project-relative file, first as <slug>/<file>, then as <file>.
func (idx URLIndex) Resolve(slug, file string) (string, bool) {
	file = utils.ToPosix(file)
	if u, ok := idx[path.Join(slug, file)]; ok {
		return u, true
	}
	u, ok := idx[file]
	return u, ok
}

// CoverURL returns the URL of the first medium derivative that resolves.
func CoverURL(info models.ProjectInfo, idx URLIndex) (string, bool) {
	for _, img := range info.Images.Optimized[models.SizeMedium] {
		if img.File == "" {
			continue
		}
		if u, ok := idx.Resolve(info.Slug, img.File); ok {
			return u, true
		}
	}
	return "", false
}

// GalleryItemID is <slug>-<basename>-<short hash of the public URL>, stable across runs.
func GalleryItemID(slug, file, publicURL string) string {
	base := path.Base(utils.ToPosix(file))
	base = strings.TrimSuffix(base, path.Ext(base))
	return fmt.Sprintf("%s-%s-%s", slug, base, utils.ShortHash(publicURL))
}

// BuildGallery turns every resolvable large derivative into a gallery item, in manifest order.
func BuildGallery(info models.ProjectInfo, idx URLIndex) []models.GalleryItem {
	alt := info.Title
	if alt == "" {
		alt = info.Slug
	}
	var items []models.GalleryItem
	for _, img := range info.Images.Optimized[models.SizeLarge] {
		u, ok := idx.Resolve(info.Slug, img.File)
		if !ok {
			continue
		}
		item := models.GalleryItem{
			Type:       "image",
			ID:         GalleryItemID(info.Slug, img.File, u),
			Src:        u,
			Width:      img.Width,
			Height:     img.Height,
			Alt:        alt,
			Visibility: "public",
		}
		if item.Width <= 0 {
			item.Width = DefaultWidth
		}
		if item.Height <= 0 {
			item.Height = DefaultHeight
		}
		items = append(items, item)
	}
	return items
}

// MergeGallery appends incoming items whose src is not already present.
// Existing items are kept verbatim, including fields this tool does not know.
func MergeGallery(existing []json.RawMessage, incoming []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, raw := range existing {
		out = append(out, raw)
		if src := itemSrc(raw); src != "" {
			seen[src] = true
		}
	}
	for _, raw := range incoming {
		src := itemSrc(raw)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, raw)
	}
	return out
}

func itemSrc(raw json.RawMessage) string {
	var v struct {
		Src string `json:"src"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Src
}

func encodeGallery(items []models.GalleryItem) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: encode gallery item %s: %w", utils.ErrParsing, item.ID, err)
		}
		out = append(out, raw)
	}
	return out, nil
}
