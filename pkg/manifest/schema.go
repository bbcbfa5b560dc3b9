package manifest

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schema names a manifest kind with an embedded JSON Schema
type Schema string

const (
	SchemaProjects      Schema = "projects"
	SchemaProjectInfo   Schema = "project-info"
	SchemaUploadMapping Schema = "upload-mapping"
	SchemaCrawlRun      Schema = "crawl-run"
	SchemaNone          Schema = "" // Skip schema validation
)

var (
	schemaCache   = make(map[Schema]*gojsonschema.Schema)
	schemaCacheMu sync.Mutex
)

// ValidationError represents a schema mismatch with field paths.
// It unwraps to utils.ErrSchemaMismatch.
type ValidationError struct {
	Path   string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s does not match its schema:", ve.Path)
	for i, err := range ve.Errors {
		fmt.Fprintf(&sb, " %d. %s: %s;", i+1, err.Field, err.Message)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

func (ve *ValidationError) Unwrap() error {
	return utils.ErrSchemaMismatch
}

func loadSchema(name Schema) (*gojsonschema.Schema, error) {
	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()

	if s, ok := schemaCache[name]; ok {
		return s, nil
	}
	raw, err := schemaFS.ReadFile("schemas/" + string(name) + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("unknown manifest schema %q: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %q: %w", name, err)
	}
	schemaCache[name] = s
	return s, nil
}

// Validate checks raw JSON against the named schema. path is only used in the error message.
func Validate(name Schema, path string, raw []byte) error {
	if name == SchemaNone {
		return nil
	}
	schema, err := loadSchema(name)
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		// Not parseable as JSON at all
		return &ValidationError{Path: path, Errors: []FieldError{{Field: "(root)", Message: err.Error()}}}
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Path:   path,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
