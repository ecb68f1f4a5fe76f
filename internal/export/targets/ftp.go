package targets

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// FTPConfig configures an FTPTarget.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	BasePath string
	Timeout  time.Duration
	MaxConns int
}

// FTPTarget uploads exports to an FTP server. Uploads go to a temporary name
// and are renamed into place.
type FTPTarget struct {
	config   FTPConfig
	retry    RetryConfig
	now      func() time.Time
	log      logger.Logger
	connPool chan *ftp.ServerConn
	mu       sync.Mutex
	closed   bool
}

// NewFTPTarget applies defaults and validates required fields. No
// connection is made until the first Store or Validate.
func NewFTPTarget(config FTPConfig) (*FTPTarget, error) {
	if config.Host == "" {
		return nil, configError("ftp", "host is required")
	}
	if config.BasePath == "" {
		return nil, configError("ftp", "path is required")
	}
	if config.Port == 0 {
		config.Port = DefaultFTPPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxConns == 0 {
		config.MaxConns = 2
	}
	config.BasePath = strings.TrimRight(config.BasePath, "/")

	return &FTPTarget{
		config:   config,
		retry:    DefaultRetryConfig(),
		now:      time.Now,
		log:      GetLogger().With(logger.String("target", "ftp"), logger.String("host", config.Host)),
		connPool: make(chan *ftp.ServerConn, config.MaxConns),
	}, nil
}

// NewFTPTargetFromSettings reads host, port, username, password, path and
// timeout from settings.
func NewFTPTargetFromSettings(settings Settings) (*FTPTarget, error) {
	timeout, err := settings.Duration("timeout", DefaultTimeout)
	if err != nil {
		return nil, configError("ftp", "invalid timeout: "+err.Error())
	}
	return NewFTPTarget(FTPConfig{
		Host:     settings.String("host", ""),
		Port:     settings.Int("port", DefaultFTPPort),
		Username: settings.String("username", ""),
		Password: settings.String("password", ""),
		BasePath: settings.String("path", ""),
		Timeout:  timeout,
	})
}

func (t *FTPTarget) Name() string { return "ftp" }

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(t.config.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, errors.NetworkError(err, addr, t.config.Timeout)
	}
	if t.config.Username != "" {
		if err := conn.Login(t.config.Username, t.config.Password); err != nil {
			_ = conn.Quit()
			return nil, errors.New(fmt.Errorf("ftp login failed: %w", err)).
				Component("export").
				Category(errors.CategoryExport).
				Context("host", t.config.Host).
				Build()
		}
	}
	return conn, nil
}

func (t *FTPTarget) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-t.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return t.connect(ctx)
}

func (t *FTPTarget) returnConnection(conn *ftp.ServerConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		_ = conn.Quit()
		return
	}
	select {
	case t.connPool <- conn:
	default:
		_ = conn.Quit()
	}
}

// withConn runs op on a pooled connection, retrying transient failures on a
// fresh connection.
func (t *FTPTarget) withConn(ctx context.Context, op func(*ftp.ServerConn) error) error {
	return WithRetry(ctx, t.retry, func() error {
		conn, err := t.getConnection(ctx)
		if err != nil {
			return err
		}
		if err := op(conn); err != nil {
			_ = conn.Quit()
			return err
		}
		t.returnConnection(conn)
		return nil
	})
}

// Store uploads sourcePath under the base path.
func (t *FTPTarget) Store(ctx context.Context, sourcePath string) (string, error) {
	if _, err := checkSource(sourcePath); err != nil {
		return "", err
	}
	remote := path.Join(t.config.BasePath, stampedName(filepath.Base(sourcePath), t.now()))
	tmp := path.Join(t.config.BasePath, fmt.Sprintf("tmp-%d-%s", t.now().UnixNano(), filepath.Base(sourcePath)))

	err := t.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := t.mkdirAll(conn, t.config.BasePath); err != nil {
			return err
		}
		f, err := os.Open(sourcePath)
		if err != nil {
			return errors.FileError(err, sourcePath, 0)
		}
		defer f.Close()

		if err := conn.Stor(tmp, &ctxReader{ctx: ctx, r: f}); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp upload failed: %w", err)
		}
		if err := conn.Rename(tmp, remote); err != nil {
			_ = conn.Delete(tmp)
			return fmt.Errorf("ftp rename failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", exportError(err, "ftp store")
	}
	t.log.Debug("stored export", logger.String("path", remote))
	return remote, nil
}

// mkdirAll creates dir and its parents, ignoring "already exists" replies.
func (t *FTPTarget) mkdirAll(conn *ftp.ServerConn, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if err := conn.MakeDir(current); err != nil && !isExistsError(err) {
			return fmt.Errorf("ftp mkdir %s: %w", current, err)
		}
	}
	return nil
}

func isExistsError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exist") || strings.HasPrefix(msg, "550")
}

// Validate logs in and lists the base path.
func (t *FTPTarget) Validate(ctx context.Context) error {
	err := t.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := t.mkdirAll(conn, t.config.BasePath); err != nil {
			return err
		}
		_, err := conn.List(t.config.BasePath)
		return err
	})
	if err != nil {
		return exportError(err, "ftp validate")
	}
	return nil
}

// Close quits pooled connections.
func (t *FTPTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.connPool)
	var errs []error
	for conn := range t.connPool {
		if err := conn.Quit(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
