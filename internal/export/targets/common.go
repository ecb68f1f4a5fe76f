// Package targets stores exported tables on local disk, FTP or SFTP servers.
package targets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tphakala/imaging-churn/internal/errors"
)

const (
	PermDir  = 0o750
	PermFile = 0o640

	MaxExportSizeBytes = 1 << 30

	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
	DefaultTimeout      = 30 * time.Second

	DefaultFTPPort = 21
	DefaultSSHPort = 22
)

// Target is one destination for exported files.
type Target interface {
	// Name identifies the target in logs and metrics.
	Name() string
	// Store copies the file at sourcePath into the target and returns the
	// remote location it was written to.
	Store(ctx context.Context, sourcePath string) (string, error)
	// Validate checks that the target is reachable and writable.
	Validate(ctx context.Context) error
}

var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
}

// IsTransientError reports whether err is likely to succeed on retry.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	msg := err.Error()
	for _, p := range transientErrorPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// RetryConfig controls WithRetry.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryConfig returns the retry policy used by all targets.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: DefaultMaxRetries, Backoff: DefaultRetryBackoff}
}

// WithRetry runs op until it succeeds, fails with a non-transient error or
// the attempts run out. The wait grows linearly between attempts.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	attempts := max(cfg.MaxRetries, 1)
	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return exportError(err, "operation canceled")
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return exportError(ctx.Err(), "operation canceled")
		case <-time.After(cfg.Backoff * time.Duration(attempt+1)):
		}
	}
	return exportError(lastErr, fmt.Sprintf("failed after %d attempts", attempts))
}

func exportError(err error, msg string) error {
	return errors.New(fmt.Errorf("%s: %w", msg, err)).
		Component("export").
		Category(errors.CategoryExport).
		Build()
}

func configError(target, msg string) error {
	return errors.Newf("%s: %s", target, msg).
		Component("export").
		Category(errors.CategoryConfiguration).
		Context("target", target).
		Build()
}

// Settings wraps the free-form settings map of an export target.
type Settings map[string]any

func (s Settings) String(key, fallback string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (s Settings) Int(key string, fallback int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func (s Settings) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

func (s Settings) Duration(key string, fallback time.Duration) (time.Duration, error) {
	switch v := s[key].(type) {
	case string:
		if v == "" {
			return fallback, nil
		}
		return time.ParseDuration(v)
	case time.Duration:
		return v, nil
	}
	return fallback, nil
}

// checkSource stats a file to export and enforces the size limit.
func checkSource(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	if info.IsDir() {
		return nil, errors.Newf("%s is a directory", path).
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}
	if info.Size() > MaxExportSizeBytes {
		return nil, errors.Newf("file too large: %d bytes (max %d)", info.Size(), MaxExportSizeBytes).
			Component("export").
			Category(errors.CategoryValidation).
			Build()
	}
	return info, nil
}

// stampedName prefixes base with a UTC timestamp so repeated exports do not
// overwrite each other.
func stampedName(base string, now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "_" + base
}
