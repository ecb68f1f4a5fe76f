package targets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTargetStore(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "profiles.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o600))

	dst := filepath.Join(t.TempDir(), "nested", "exports")
	target, err := NewLocalTarget(Settings{"path": dst})
	require.NoError(t, err)
	target.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	loc, err := target.Store(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(target.Path(), "20240301T120000Z_profiles.csv"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	entries, err := os.ReadDir(target.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	assert.NoError(t, target.Validate(context.Background()))
}

func TestLocalTargetRejectsDirectorySource(t *testing.T) {
	t.Parallel()

	target, err := NewLocalTarget(Settings{"path": t.TempDir()})
	require.NoError(t, err)
	_, err = target.Store(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestLocalTargetRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewLocalTarget(Settings{})
	assert.Error(t, err)
}

func TestLocalTargetCanceled(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "p.csv")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))
	target, err := NewLocalTarget(Settings{"path": t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = target.Store(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	cfg := RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}

	calls := 0
	err := WithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("550 permission denied")
	err = WithRetry(context.Background(), cfg, func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	calls = 0
	err = WithRetry(context.Background(), cfg, func() error {
		calls++
		return errors.New("i/o timeout")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransientError(nil))
	assert.False(t, IsTransientError(context.Canceled))
	assert.True(t, IsTransientError(errors.New("unexpected EOF")))
	assert.False(t, IsTransientError(errors.New("no such file")))
}

func TestSettings(t *testing.T) {
	t.Parallel()

	s := Settings{"host": "h", "port": 2222, "timeout": "5s", "f": 21.0, "bad": "x"}
	assert.Equal(t, "h", s.String("host", ""))
	assert.Equal(t, "d", s.String("missing", "d"))
	assert.Equal(t, 2222, s.Int("port", 22))
	assert.Equal(t, 21, s.Int("f", 0))

	d, err := s.Duration("timeout", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
	_, err = s.Duration("bad", time.Second)
	assert.Error(t, err)
}

func TestRemoteTargetDefaults(t *testing.T) {
	t.Parallel()

	f, err := NewFTPTargetFromSettings(Settings{"host": "ftp.example.org", "path": "/exports/"})
	require.NoError(t, err)
	assert.Equal(t, DefaultFTPPort, f.config.Port)
	assert.Equal(t, "/exports", f.config.BasePath)
	assert.Equal(t, "ftp", f.Name())
	assert.NoError(t, f.Close())

	s, err := NewSFTPTargetFromSettings(Settings{"host": "sftp.example.org", "password": "pw"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSSHPort, s.config.Port)
	assert.Equal(t, "exports", s.config.BasePath)

	_, err = NewSFTPTargetFromSettings(Settings{"host": "h", "password": "pw", "timeout": "soon"})
	assert.Error(t, err)
}
