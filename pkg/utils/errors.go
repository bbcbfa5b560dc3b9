package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	// Fatal / setup tier
	ErrRobotsDisallowed   = errors.New("disallowed by robots.txt")
	ErrMissingCredentials = errors.New("missing required credentials")
	ErrManifestRead       = errors.New("cannot read required manifest")
	ErrSchemaMismatch     = errors.New("manifest schema mismatch") // Wraps field-level validation detail
	ErrConfigValidation   = errors.New("configuration validation error")
	ErrLocked             = errors.New("output directory locked by another run")
	ErrValidationFailed   = errors.New("asset validation found errors")
	ErrUnknownStage       = errors.New("unknown stage")

	// Per-item tier
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")    // Wraps original status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")    // Wraps original status
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)") // Wraps original status
	ErrNotImage         = errors.New("response is not an image")
	ErrNoBody           = errors.New("response has no body")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrBucketNotFound   = errors.New("bucket not found")
	ErrFileTooLarge     = errors.New("file too large")
	ErrRetryFailed      = errors.New("operation failed after all retries") // Wraps the last underlying error
	ErrFilesystem       = errors.New("filesystem error")                   // Wraps os errors
	ErrDatabase         = errors.New("database error")
	ErrParsing          = errors.New("parsing error")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrImageDecode      = errors.New("cannot decode image")
	ErrRemoteTransfer   = errors.New("remote transfer failed") // SFTP put/stat failures
)

// HTTPStatusError carries the status of a non-2xx response so callers can build status-specific codes.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("status %d %s", e.StatusCode, e.Status)
}

// Unwrap maps the status onto the matching sentinel.
func (e *HTTPStatusError) Unwrap() error {
	switch {
	case e.StatusCode >= 500:
		return ErrServerHTTPError
	case e.StatusCode >= 400:
		return ErrClientHTTPError
	default:
		return ErrOtherHTTPError
	}
}

// NotImageError reports a response whose content type is not an image.
type NotImageError struct {
	ContentType string
}

func (e *NotImageError) Error() string {
	return fmt.Sprintf("content type %q is not an image", e.ContentType)
}

func (e *NotImageError) Unwrap() error { return ErrNotImage }

// FileTooLargeError reports a file above the configured size cap.
type FileTooLargeError struct {
	Size  int64
	MaxMB float64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("%d bytes exceeds %sMB", e.Size, trimFloat(e.MaxMB))
}

func (e *FileTooLargeError) Unwrap() error { return ErrFileTooLarge }

// NewHTTPStatusError builds an HTTPStatusError for a response status.
func NewHTTPStatusError(code int, status string) error {
	return &HTTPStatusError{StatusCode: code, Status: status}
}

// ErrorCode maps a per-item error to the short code recorded in stage reports.
// Codes are stable strings (http_404, checksum_mismatch, ...) so reruns can grep for them.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.StatusCode)
	}

	var notImage *NotImageError
	if errors.As(err, &notImage) {
		return NotImageCode(notImage.ContentType)
	}
	var tooLarge *FileTooLargeError
	if errors.As(err, &tooLarge) {
		return FileTooLargeCode(tooLarge.MaxMB)
	}

	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, ErrNoBody):
		return "no_body"
	case errors.Is(err, ErrBucketNotFound):
		return "bucket_not_found"
	case errors.Is(err, ErrRobotsDisallowed):
		return "robots_disallowed"
	case errors.Is(err, ErrImageDecode):
		return "image_decode"
	case errors.Is(err, ErrRemoteTransfer):
		return "remote_transfer"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "fs_permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "fs_not_exist"
		}
		return "fs_error"
	case errors.Is(err, ErrDatabase):
		return "db_error"
	case errors.Is(err, ErrRequestCreation):
		return "request_creation"
	case errors.Is(err, ErrResponseBodyRead):
		return "body_read"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "network_timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "network_timeout"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "connection_refused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "dns_lookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "network_tls"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "connection_reset"
	}

	return "unknown"
}

// NotImageCode builds the not_image_<type> code for a non-image content type.
func NotImageCode(contentType string) string {
	return "not_image_" + contentType
}

// FileTooLargeCode builds the file_too_large>NMB code for a file above the size cap.
func FileTooLargeCode(maxMB float64) string {
	return fmt.Sprintf("file_too_large>%sMB", trimFloat(maxMB))
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// WrapErrorf wraps err with a formatted context prefix; nil stays nil.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
