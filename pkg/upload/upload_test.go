package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testConfig(t *testing.T, mutate func(*config.Config)) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Common.OutDir = t.TempDir()
	cfg.Upload.RetryBaseDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

// seedDerivatives writes files under projects/ and returns their projects-relative paths, sorted
func seedDerivatives(t *testing.T, outDir string, files map[string]string) []string {
	t.Helper()
	layout, err := workspace.New(outDir)
	require.NoError(t, err)
	var rels []string
	for rel, content := range files {
		p := filepath.Join(layout.ProjectsDir(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	return rels
}

// fakeStore is an in-memory ObjectStore. corrupt flips stored bytes so verification fails.
type fakeStore struct {
	mu            sync.Mutex
	bucket        string
	objects       map[string][]byte
	puts          map[string]int
	bucketMissing bool
	creates       int
	corrupt       map[string]bool
	failPut       map[string]error
	lastOpts      PutOptions
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bucket:  "project-images",
		objects: map[string][]byte{},
		puts:    map[string]int{},
		corrupt: map[string]bool{},
		failPut: map[string]error{},
	}
}

func (s *fakeStore) Bucket() string { return s.bucket }

func (s *fakeStore) Put(ctx context.Context, objectPath string, body []byte, opts PutOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[objectPath]++
	s.lastOpts = opts
	if s.bucketMissing {
		return fmt.Errorf("%w: upload %s", utils.ErrBucketNotFound, objectPath)
	}
	if err := s.failPut[objectPath]; err != nil {
		return err
	}
	stored := bytes.Clone(body)
	if s.corrupt[objectPath] && len(stored) > 0 {
		stored[0] ^= 0xff
	}
	s.objects[objectPath] = stored
	return nil
}

func (s *fakeStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("missing %s", objectPath)
	}
	return bytes.Clone(data), nil
}

func (s *fakeStore) CreateBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	s.bucketMissing = false
	return nil
}

func (s *fakeStore) PublicURL(objectPath string) string {
	return "https://cdn.test/" + s.bucket + "/" + objectPath
}

func (s *fakeStore) putCount(objectPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[objectPath]
}
