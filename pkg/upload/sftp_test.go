package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// memRemote is an in-memory RemoteFS
type memRemote struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	failPut map[string]bool
	closed  bool
}

func newMemRemote() *memRemote {
	return &memRemote{files: map[string][]byte{}, dirs: map[string]bool{}, failPut: map[string]bool{}}
}

func (m *memRemote) MkdirAll(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[dir] = true
	return nil
}

func (m *memRemote) Exists(remotePath string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[remotePath]
	return ok, nil
}

func (m *memRemote) Put(localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut[remotePath] {
		return errors.New("sftp: permission denied")
	}
	if !m.dirs[path.Dir(remotePath)] {
		return errors.New("sftp: no such directory")
	}
	m.files[remotePath] = data
	return nil
}

func (m *memRemote) Close() error {
	m.closed = true
	return nil
}

// dialFunc adapts a function to Dialer
type dialFunc func(ctx context.Context) (RemoteFS, error)

func (f dialFunc) Dial(ctx context.Context) (RemoteFS, error) { return f(ctx) }

func newTestSFTP(t *testing.T, cfg config.Config, remote *memRemote, dialErr error) (*SFTPUploader, *int) {
	t.Helper()
	dials := 0
	dialer := dialFunc(func(ctx context.Context) (RemoteFS, error) {
		dials++
		if dialErr != nil {
			return nil, dialErr
		}
		return remote, nil
	})
	u, err := NewSFTPUploader(cfg, dialer, testLogger())
	require.NoError(t, err)
	u.SetOutput(&bytes.Buffer{})
	return u, &dials
}

func TestSFTPUploader_Uploads(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.SFTP.PublicBaseURL = "https://files.test/" })
	seedDerivatives(t, cfg.Common.OutDir, derivatives)
	remote := newMemRemote()
	u, _ := newTestSFTP(t, cfg, remote, nil)

	summary, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, remote.closed)

	// Every optimized file regardless of format
	require.Equal(t, 4, summary.Count)
	for _, m := range summary.Mappings {
		assert.True(t, m.Uploaded, m.File)
		assert.Equal(t, "/projects/"+m.File, m.RemotePath)
		assert.Equal(t, "https://files.test/"+m.File, m.PublicURL)
	}
	assert.Equal(t, []byte("villa-large"), remote.files["/projects/villa/images/optimized/lg/villa_20240102_01.webp"])

	layout, _ := workspace.New(cfg.Common.OutDir)
	var onDisk models.SFTPSummary
	require.NoError(t, manifest.ReadJSON(layout.SFTPSummary(), manifest.SchemaNone, &onDisk))
	assert.Equal(t, "https://files.test", onDisk.PublicBaseURL)
	assert.Equal(t, 4, onDisk.Count)
}

func TestSFTPUploader_NoOverwriteSkipsExisting(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.SFTP.Overwrite = false })
	seedDerivatives(t, cfg.Common.OutDir, derivatives)
	remote := newMemRemote()
	existing := "/projects/maison/images/optimized/lg/maison_20240102_01.webp"
	remote.files[existing] = []byte("old")
	u, _ := newTestSFTP(t, cfg, remote, nil)

	summary, err := u.Run(context.Background())
	require.NoError(t, err)
	for _, m := range summary.Mappings {
		if m.RemotePath == existing {
			assert.True(t, m.Skipped)
			assert.False(t, m.Uploaded)
		} else {
			assert.True(t, m.Uploaded)
		}
	}
	assert.Equal(t, []byte("old"), remote.files[existing])
}

func TestSFTPUploader_DryRunDoesNotDial(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.SFTP.DryRun = true })
	seedDerivatives(t, cfg.Common.OutDir, derivatives)
	u, dials := newTestSFTP(t, cfg, nil, errors.New("must not dial"))

	summary, err := u.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, *dials)
	for _, m := range summary.Mappings {
		assert.True(t, m.DryRun)
		assert.False(t, m.Uploaded)
	}
}

func TestSFTPUploader_PerFileFailure(t *testing.T) {
	cfg := testConfig(t, nil)
	seedDerivatives(t, cfg.Common.OutDir, derivatives)
	remote := newMemRemote()
	bad := "/projects/maison/images/optimized/md/maison_20240102_01.webp"
	remote.failPut[bad] = true
	u, _ := newTestSFTP(t, cfg, remote, nil)

	summary, err := u.Run(context.Background())
	require.NoError(t, err)
	failed := 0
	for _, m := range summary.Mappings {
		if m.RemotePath == bad {
			assert.Equal(t, "remote_transfer", m.Error)
			failed++
		} else {
			assert.True(t, m.Uploaded)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestSFTPUploader_DialFailureIsFatal(t *testing.T) {
	cfg := testConfig(t, nil)
	seedDerivatives(t, cfg.Common.OutDir, derivatives)
	u, _ := newTestSFTP(t, cfg, nil, errors.New("connection refused"))

	_, err := u.Run(context.Background())
	assert.Error(t, err)
	layout, _ := workspace.New(cfg.Common.OutDir)
	assert.False(t, manifest.Exists(layout.SFTPSummary()))
}
