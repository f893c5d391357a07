package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

type SFTPConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	KeyFile        string
	KnownHostsFile string
	// BasePath is the remote directory keys are resolved against.
	BasePath      string
	Timeout       time.Duration
	PublicBaseURL string
	// TempDir holds uploads until they are committed.
	TempDir string
}

// SFTPStore keeps blobs on a remote host. One SFTP session is shared and
// re-dialed after the connection is lost.
type SFTPStore struct {
	cfg  SFTPConfig
	dial func(ctx context.Context) (*sftp.Client, error)

	mu     sync.Mutex
	client *sftp.Client
}

func NewSFTPStore(cfg SFTPConfig) (*SFTPStore, error) {
	if cfg.Host == "" {
		return nil, errors.New("sftp: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &SFTPStore{cfg: normalizeSFTPConfig(cfg)}
	s.dial = s.connect
	return s, nil
}

// NewSFTPStoreWithClient wraps an established session. The store never
// re-dials it.
func NewSFTPStoreWithClient(client *sftp.Client, cfg SFTPConfig) *SFTPStore {
	s := &SFTPStore{cfg: normalizeSFTPConfig(cfg), client: client}
	s.dial = func(context.Context) (*sftp.Client, error) {
		return nil, errors.New("sftp: session closed")
	}
	return s
}

func normalizeSFTPConfig(cfg SFTPConfig) SFTPConfig {
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return cfg
}

var _ ports.BlobStore = (*SFTPStore)(nil)

func (s *SFTPStore) connect(ctx context.Context) (*sftp.Client, error) {
	config := &ssh.ClientConfig{
		User:    s.cfg.User,
		Timeout: s.cfg.Timeout,
	}

	if s.cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		log.WithField("host", s.cfg.Host).Warn("sftp: host key verification disabled, set SFTP_KNOWN_HOSTS")
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	switch {
	case s.cfg.KeyFile != "":
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case s.cfg.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
	default:
		return nil, errors.New("sftp: no authentication method provided")
	}

	type connResult struct {
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{client, nil}
	}()

	select {
	case <-ctx.Done():
		// Close a session that completes after the caller gave up.
		go func() {
			if r := <-resultChan; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		return r.client, r.err
	}
}

// session returns the shared client, dialing without holding the lock. When
// two dials race, the first one installed wins and the other is closed.
func (s *SFTPStore) session(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		return client, nil
	}

	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		_ = client.Close()
		return s.client, nil
	}
	s.client = client
	return client, nil
}

// release drops the shared session after a connection failure so the next
// call dials again.
func (s *SFTPStore) release(client *sftp.Client, err error) {
	if !errors.Is(err, sftp.ErrSSHFxConnectionLost) && !errors.Is(err, io.EOF) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == client {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *SFTPStore) remotePath(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return path.Join(s.cfg.BasePath, clean), nil
}

func (s *SFTPStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.remotePath(key)
	if err != nil {
		return false, err
	}
	client, err := s.session(ctx)
	if err != nil {
		return false, err
	}
	info, err := client.Stat(p)
	if isNotExist(err) {
		return false, nil
	}
	if err != nil {
		s.release(client, err)
		return false, fmt.Errorf("sftp: stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *SFTPStore) OpenRead(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}
	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(p)
	if isNotExist(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	if err != nil {
		s.release(client, err)
		return nil, fmt.Errorf("sftp: open %s: %w", key, err)
	}
	return f, nil
}

// OpenWrite spools to a local temporary file. Commit uploads it under a
// temporary remote name and renames it into place.
func (s *SFTPStore) OpenWrite(_ context.Context, key string) (ports.BlobWriter, error) {
	p, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	f, err := os.CreateTemp(s.cfg.TempDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &sftpWriter{store: s, spool: f, target: p}, nil
}

func (s *SFTPStore) Remove(ctx context.Context, key string) error {
	p, err := s.remotePath(key)
	if err != nil {
		return err
	}
	client, err := s.session(ctx)
	if err != nil {
		return err
	}
	err = client.Remove(p)
	if isNotExist(err) {
		return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	if err != nil {
		s.release(client, err)
		return fmt.Errorf("sftp: remove %s: %w", key, err)
	}
	return nil
}

func (s *SFTPStore) LocalPath(string) string {
	return ""
}

func (s *SFTPStore) PublicURL(key string) string {
	if s.cfg.PublicBaseURL == "" {
		return ""
	}
	clean, err := cleanKey(key)
	if err != nil {
		return ""
	}
	u, err := url.JoinPath(s.cfg.PublicBaseURL, strings.Split(clean, "/")...)
	if err != nil {
		return ""
	}
	return u
}

func (s *SFTPStore) upload(ctx context.Context, src *os.File, target string) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}

	dir := path.Dir(target)
	if err := client.MkdirAll(dir); err != nil {
		s.release(client, err)
		return fmt.Errorf("sftp: failed to create directory %s: %w", dir, err)
	}

	tmp := path.Join(dir, ".tmp-"+uuid.NewString())
	dst, err := client.Create(tmp)
	if err != nil {
		s.release(client, err)
		return fmt.Errorf("sftp: failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		_ = client.Remove(tmp)
		s.release(client, err)
		return fmt.Errorf("sftp: failed to write file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmp)
		return fmt.Errorf("sftp: failed to close file: %w", err)
	}

	if err := client.PosixRename(tmp, target); err != nil {
		// Servers without the posix-rename extension refuse to overwrite.
		_ = client.Remove(target)
		if err := client.Rename(tmp, target); err != nil {
			_ = client.Remove(tmp)
			return fmt.Errorf("sftp: failed to rename file: %w", err)
		}
	}
	return nil
}

type sftpWriter struct {
	store  *SFTPStore
	spool  *os.File
	target string
	n      int64
	done   bool
}

func (w *sftpWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	n, err := w.spool.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *sftpWriter) Commit(ctx context.Context) (int64, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	w.done = true
	defer func() {
		_ = w.spool.Close()
		_ = os.Remove(w.spool.Name())
	}()

	if _, err := w.spool.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind spool file: %w", err)
	}
	if err := w.store.upload(ctx, w.spool, w.target); err != nil {
		return 0, err
	}
	return w.n, nil
}

func (w *sftpWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.spool.Close()
	if err := os.Remove(w.spool.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var status *sftp.StatusError
	return errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxNoSuchFile
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
