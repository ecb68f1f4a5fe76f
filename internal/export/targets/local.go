package targets

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// LocalTarget copies exports into a directory.
type LocalTarget struct {
	path  string
	retry RetryConfig
	now   func() time.Time
	log   logger.Logger
}

// NewLocalTarget creates the directory when needed.
func NewLocalTarget(settings Settings) (*LocalTarget, error) {
	dir := settings.String("path", "")
	if dir == "" {
		return nil, configError("local", "path is required")
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return nil, configError("local", "invalid path: "+err.Error())
	}
	if err := os.MkdirAll(abs, PermDir); err != nil {
		return nil, errors.FileError(err, abs, 0)
	}
	return &LocalTarget{
		path:  abs,
		retry: DefaultRetryConfig(),
		now:   time.Now,
		log:   GetLogger().With(logger.String("target", "local")),
	}, nil
}

func (t *LocalTarget) Name() string { return "local" }

// Path returns the destination directory.
func (t *LocalTarget) Path() string { return t.path }

// Store copies sourcePath into the directory through a temporary file.
func (t *LocalTarget) Store(ctx context.Context, sourcePath string) (string, error) {
	info, err := checkSource(sourcePath)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(t.path, stampedName(filepath.Base(sourcePath), t.now()))
	err = WithRetry(ctx, t.retry, func() error {
		return t.copy(ctx, sourcePath, dst)
	})
	if err != nil {
		return "", err
	}

	stored, err := os.Stat(dst)
	if err != nil {
		return "", errors.FileError(err, dst, 0)
	}
	if stored.Size() != info.Size() {
		_ = os.Remove(dst)
		return "", errors.Newf("size mismatch after copy: expected %d, got %d", info.Size(), stored.Size()).
			Component("export").
			Category(errors.CategoryExport).
			Build()
	}

	t.log.Debug("stored export", logger.String("path", dst), logger.Int64("bytes", info.Size()))
	return dst, nil
}

func (t *LocalTarget) copy(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return errors.FileError(err, src, 0)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".export-*.tmp")
	if err != nil {
		return errors.FileError(err, dst, 0)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: in}); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(PermFile); err != nil {
		tmp.Close()
		return errors.FileError(err, dst, 0)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.FileError(err, dst, 0)
	}
	if err = tmp.Close(); err != nil {
		return errors.FileError(err, dst, 0)
	}
	return os.Rename(tmp.Name(), dst)
}

// Validate writes and removes a probe file.
func (t *LocalTarget) Validate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := os.CreateTemp(t.path, ".write-test-*")
	if err != nil {
		return errors.FileError(err, t.path, 0)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
