package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
)

// maxErrorBody bounds how much of an error response is read for its message
const maxErrorBody = 4 << 10

// SupabaseStore talks to the Supabase Storage REST API
type SupabaseStore struct {
	baseURL string // project URL without trailing slash
	key     string
	bucket  string
	client  *http.Client
	log     *logrus.Entry
}

// NewSupabaseStore creates a store for cfg.Bucket authenticated with the service role key.
func NewSupabaseStore(cfg config.SupabaseConfig, client *http.Client, log *logrus.Entry) *SupabaseStore {
	return &SupabaseStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.ServiceRoleKey,
		bucket:  cfg.Bucket,
		client:  client,
		log:     log,
	}
}

// Bucket implements ObjectStore
func (s *SupabaseStore) Bucket() string { return s.bucket }

// PublicURL implements ObjectStore
func (s *SupabaseStore) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath)
}

func (s *SupabaseStore) objectURL(objectPath string) string {
	segments := strings.Split(objectPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), strings.Join(segments, "/"))
}

func (s *SupabaseStore) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", utils.ErrRequestCreation, method, target, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	return req, nil
}

// Put implements ObjectStore
func (s *SupabaseStore) Put(ctx context.Context, objectPath string, body []byte, opts PutOptions) error {
	req, err := s.newRequest(ctx, http.MethodPost, s.objectURL(objectPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", "max-age="+opts.CacheControl)
	}
	req.Header.Set("x-upsert", strconv.FormatBool(opts.Upsert))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return s.responseError("upload "+objectPath, resp)
}

// Get implements ObjectStore
func (s *SupabaseStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.objectURL(objectPath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", objectPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, s.responseError("download "+objectPath, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: download %s: %w", utils.ErrResponseBodyRead, objectPath, err)
	}
	return data, nil
}

// CreateBucket implements ObjectStore
func (s *SupabaseStore) CreateBucket(ctx context.Context) error {
	payload, err := json.Marshal(map[string]interface{}{"id": s.bucket, "name": s.bucket, "public": true})
	if err != nil {
		return err
	}
	req, err := s.newRequest(ctx, http.MethodPost, s.baseURL+"/storage/v1/bucket", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		s.log.Infof("Created bucket %s", s.bucket)
		return nil
	}
	err = s.responseError("create bucket "+s.bucket, resp)
	if resp.StatusCode == http.StatusConflict || strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return nil
	}
	return err
}

// storageError is the JSON error body of the storage API
type storageError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// responseError turns a non-2xx response into an error. A missing bucket maps to utils.ErrBucketNotFound.
func (s *SupabaseStore) responseError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body storageError
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		msg = body.Message
	}
	if strings.Contains(strings.ToLower(msg), "bucket not found") {
		return fmt.Errorf("%w: %s", utils.ErrBucketNotFound, op)
	}
	return fmt.Errorf("%s: %w: %s", op, utils.NewHTTPStatusError(resp.StatusCode, resp.Status), msg)
}
