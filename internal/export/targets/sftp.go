package targets

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// SFTPConfig configures an SFTPTarget. Either Password or KeyFile is
// required. Without KnownHostsFile host keys are not verified.
type SFTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	KeyFile        string
	KnownHostsFile string
	BasePath       string
	Timeout        time.Duration
}

// SFTPTarget uploads exports over SSH.
type SFTPTarget struct {
	config SFTPConfig
	retry  RetryConfig
	now    func() time.Time
	log    logger.Logger
}

// NewSFTPTarget applies defaults and validates required fields.
func NewSFTPTarget(config SFTPConfig) (*SFTPTarget, error) {
	if config.Host == "" {
		return nil, configError("sftp", "host is required")
	}
	if config.Password == "" && config.KeyFile == "" {
		return nil, configError("sftp", "password or key_file is required")
	}
	if config.Port == 0 {
		config.Port = DefaultSSHPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.BasePath == "" {
		config.BasePath = "exports"
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")

	return &SFTPTarget{
		config: config,
		retry:  DefaultRetryConfig(),
		now:    time.Now,
		log:    GetLogger().With(logger.String("target", "sftp"), logger.String("host", config.Host)),
	}, nil
}

// NewSFTPTargetFromSettings reads host, port, username, password, key_file,
// known_hosts, path and timeout from settings.
func NewSFTPTargetFromSettings(settings Settings) (*SFTPTarget, error) {
	timeout, err := settings.Duration("timeout", DefaultTimeout)
	if err != nil {
		return nil, configError("sftp", "invalid timeout: "+err.Error())
	}
	return NewSFTPTarget(SFTPConfig{
		Host:           settings.String("host", ""),
		Port:           settings.Int("port", DefaultSSHPort),
		Username:       settings.String("username", ""),
		Password:       settings.String("password", ""),
		KeyFile:        settings.String("key_file", ""),
		KnownHostsFile: settings.String("known_hosts", ""),
		BasePath:       settings.String("path", ""),
		Timeout:        timeout,
	})
}

func (t *SFTPTarget) Name() string { return "sftp" }

func (t *SFTPTarget) clientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:    t.config.Username,
		Timeout: t.config.Timeout,
		//nolint:gosec // only used when no known_hosts file is configured
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if t.config.KnownHostsFile != "" {
		cb, err := knownhosts.New(t.config.KnownHostsFile)
		if err != nil {
			return nil, errors.FileError(err, t.config.KnownHostsFile, 0)
		}
		cfg.HostKeyCallback = cb
	}

	if t.config.KeyFile != "" {
		key, err := os.ReadFile(t.config.KeyFile)
		if err != nil {
			return nil, errors.FileError(err, t.config.KeyFile, 0)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, configError("sftp", "failed to parse private key: "+err.Error())
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if t.config.Password != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(t.config.Password))
	}
	return cfg, nil
}

// connect dials with ctx so cancellation aborts a hanging handshake.
func (t *SFTPTarget) connect(ctx context.Context) (*sftp.Client, func(), error) {
	cfg, err := t.clientConfig()
	if err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(t.config.Host, fmt.Sprint(t.config.Port))
	dialer := net.Dialer{Timeout: t.config.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, errors.NetworkError(err, addr, t.config.Timeout)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("ssh: handshake failed: %w", err)
	}
	_ = raw.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(conn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("sftp: failed to start subsystem: %w", err)
	}
	closeAll := func() {
		client.Close()
		sshClient.Close()
	}
	return client, closeAll, nil
}

// Store uploads sourcePath under the base path through a temporary name.
func (t *SFTPTarget) Store(ctx context.Context, sourcePath string) (string, error) {
	if _, err := checkSource(sourcePath); err != nil {
		return "", err
	}
	base := filepath.Base(sourcePath)
	remote := path.Join(t.config.BasePath, stampedName(base, t.now()))
	tmp := path.Join(t.config.BasePath, fmt.Sprintf(".tmp-%d-%s", t.now().UnixNano(), base))

	err := WithRetry(ctx, t.retry, func() error {
		client, closeAll, err := t.connect(ctx)
		if err != nil {
			return err
		}
		defer closeAll()

		if err := client.MkdirAll(t.config.BasePath); err != nil {
			return fmt.Errorf("sftp mkdir: %w", err)
		}
		if err := t.upload(ctx, client, sourcePath, tmp); err != nil {
			_ = client.Remove(tmp)
			return err
		}
		if err := client.PosixRename(tmp, remote); err != nil {
			_ = client.Remove(tmp)
			return fmt.Errorf("sftp rename: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", exportError(err, "sftp store")
	}
	t.log.Debug("stored export", logger.String("path", remote))
	return remote, nil
}

func (t *SFTPTarget) upload(ctx context.Context, client *sftp.Client, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.FileError(err, src, 0)
	}
	defer in.Close()

	out, err := client.Create(dst)
	if err != nil {
		return fmt.Errorf("sftp create: %w", err)
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return fmt.Errorf("sftp write: %w", err)
	}
	return out.Close()
}

// Validate connects and ensures the base path exists.
func (t *SFTPTarget) Validate(ctx context.Context) error {
	client, closeAll, err := t.connect(ctx)
	if err != nil {
		return exportError(err, "sftp validate")
	}
	defer closeAll()
	if err := client.MkdirAll(t.config.BasePath); err != nil {
		return exportError(err, "sftp validate")
	}
	return nil
}
