package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"

	"github.com/LeeHome2/tedoori-pipeline/pkg/config"
	"github.com/LeeHome2/tedoori-pipeline/pkg/manifest"
	"github.com/LeeHome2/tedoori-pipeline/pkg/models"
	"github.com/LeeHome2/tedoori-pipeline/pkg/utils"
	"github.com/LeeHome2/tedoori-pipeline/pkg/workspace"
)

// RemoteFS is the file-server collaborator. Implementations must be safe for concurrent use.
type RemoteFS interface {
	MkdirAll(dir string) error
	Exists(remotePath string) (bool, error)
	Put(localPath, remotePath string) error
	Close() error
}

// Dialer opens a RemoteFS session
type Dialer interface {
	Dial(ctx context.Context) (RemoteFS, error)
}

// SSHDialer connects over SSH and speaks SFTP
type SSHDialer struct {
	cfg config.SFTPConfig
	log *logrus.Entry
}

// NewSSHDialer creates a dialer from the SFTP settings.
func NewSSHDialer(cfg config.SFTPConfig, log *logrus.Entry) *SSHDialer {
	return &SSHDialer{cfg: cfg, log: log}
}

func (d *SSHDialer) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if d.cfg.PrivateKeyPath != "" {
		pem, err := os.ReadFile(d.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read private key: %w", utils.ErrMissingCredentials, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("%w: parse private key %s: %w", utils.ErrMissingCredentials, d.cfg.PrivateKeyPath, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if d.cfg.Password != "" {
		auth = append(auth, ssh.Password(d.cfg.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if d.cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(d.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("%w: known_hosts %s: %w", utils.ErrConfigValidation, d.cfg.KnownHostsPath, err)
		}
		hostKey = cb
	} else {
		d.log.Warn("SFTP_KNOWN_HOSTS not set: host key is not verified")
	}

	return &ssh.ClientConfig{
		User:            d.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}, nil
}

// Dial implements Dialer
func (d *SSHDialer) Dial(ctx context.Context) (RemoteFS, error) {
	sshCfg, err := d.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", utils.ErrRemoteTransfer, addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: ssh handshake with %s: %w", utils.ErrRemoteTransfer, addr, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("%w: start sftp on %s: %w", utils.ErrRemoteTransfer, addr, err)
	}
	d.log.Infof("Connected to %s as %s", addr, d.cfg.Username)
	return &sftpFS{client: client, ssh: sshClient}, nil
}

// sftpFS adapts *sftp.Client to RemoteFS
type sftpFS struct {
	client *sftp.Client
	ssh    *ssh.Client
}

func (s *sftpFS) MkdirAll(dir string) error {
	return s.client.MkdirAll(dir)
}

func (s *sftpFS) Exists(remotePath string) (bool, error) {
	_, err := s.client.Stat(remotePath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *sftpFS) Put(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	defer src.Close()

	dst, err := s.client.Create(remotePath)
	if err != nil {
		return err
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *sftpFS) Close() error {
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

// SFTPUploader mirrors optimized derivatives onto a file server
type SFTPUploader struct {
	cfg    config.SFTPConfig
	layout workspace.Layout
	dialer Dialer
	out    io.Writer
	log    *logrus.Entry
}

// NewSFTPUploader wires the uploader; dialer is not used in dry-run mode.
func NewSFTPUploader(cfg config.Config, dialer Dialer, log *logrus.Entry) (*SFTPUploader, error) {
	layout, err := workspace.New(cfg.Common.OutDir)
	if err != nil {
		return nil, err
	}
	return &SFTPUploader{cfg: cfg.SFTP, layout: layout, dialer: dialer, out: os.Stdout, log: log}, nil
}

// SetOutput redirects the final report line (stdout by default).
func (u *SFTPUploader) SetOutput(w io.Writer) { u.out = w }

// Run uploads every file under projects/*/images/optimized. A connection failure is fatal;
// per-file failures are recorded in the mapping.
func (u *SFTPUploader) Run(ctx context.Context) (*models.SFTPSummary, error) {
	files, err := u.layout.OptimizedFiles("")
	if err != nil {
		return nil, err
	}
	if u.cfg.MaxFiles > 0 && len(files) > u.cfg.MaxFiles {
		files = files[:u.cfg.MaxFiles]
	}

	var remote RemoteFS
	if !u.cfg.DryRun {
		remote, err = u.dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			if cerr := remote.Close(); cerr != nil {
				u.log.Warnf("Closing SFTP session: %v", cerr)
			}
		}()
	}

	mappings := make([]models.SFTPMapping, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mappings[i] = u.uploadFile(remote, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &models.SFTPSummary{
		DryRun:        u.cfg.DryRun,
		Overwrite:     u.cfg.Overwrite,
		RemoteBase:    u.cfg.RemoteBase,
		PublicBaseURL: u.cfg.PublicBaseURL,
		CreatedAt:     time.Now().UTC(),
		Count:         len(mappings),
		Mappings:      mappings,
	}
	if err := manifest.WriteJSON(u.layout.SFTPSummary(), summary); err != nil {
		return nil, err
	}
	fmt.Fprintf(u.out, "Prepared %d uploads\n", len(mappings))
	return summary, nil
}

func (u *SFTPUploader) uploadFile(remote RemoteFS, f workspace.LocalFile) models.SFTPMapping {
	m := models.SFTPMapping{File: f.Rel, RemotePath: path.Join(u.cfg.RemoteBase, f.Rel)}
	if u.cfg.PublicBaseURL != "" {
		m.PublicURL = u.cfg.PublicBaseURL + "/" + f.Rel
	}
	if u.cfg.DryRun {
		m.DryRun = true
		return m
	}
	fileLog := u.log.WithField("file", f.Rel)

	if err := remote.MkdirAll(path.Dir(m.RemotePath)); err != nil {
		fileLog.Debugf("mkdir %s: %v", path.Dir(m.RemotePath), err)
	}
	if !u.cfg.Overwrite {
		exists, err := remote.Exists(m.RemotePath)
		if err != nil {
			fileLog.Debugf("stat %s: %v", m.RemotePath, err)
		}
		if exists {
			m.Skipped = true
			return m
		}
	}
	if err := remote.Put(f.Path, m.RemotePath); err != nil {
		if !errors.Is(err, utils.ErrFilesystem) {
			err = fmt.Errorf("%w: %w", utils.ErrRemoteTransfer, err)
		}
		m.Error = utils.ErrorCode(err)
		fileLog.Warnf("SFTP put failed: %v", err)
		return m
	}
	m.Uploaded = true
	fileLog.Debugf("Uploaded to %s", m.RemotePath)
	return m
}
