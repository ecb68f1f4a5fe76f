package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/imaging-churn/internal/errors"
)

func TestExpand(t *testing.T) {
	t.Setenv("CHURN_TOKEN", "secret123")
	t.Setenv("CHURN_USER", "admin")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", false},
		{"literal", "literal-value", "literal-value", false},
		{"variable", "${CHURN_TOKEN}", "secret123", false},
		{"inside text", "Bearer ${CHURN_TOKEN}", "Bearer secret123", false},
		{"two variables", "${CHURN_USER}:${CHURN_TOKEN}", "admin:secret123", false},
		{"fallback unused", "${CHURN_TOKEN:-default}", "secret123", false},
		{"fallback used", "${CHURN_UNSET:-default}", "default", false},
		{"empty fallback", "${CHURN_UNSET:-}", "", false},
		{"missing", "${CHURN_UNSET}", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
				assert.Contains(t, err.Error(), "CHURN_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "db_password")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0o600))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	loose := filepath.Join(dir, "loose")
	require.NoError(t, os.WriteFile(loose, []byte(" spaced \r\n"), 0o644))
	got, err = ReadFile(loose)
	require.NoError(t, err)
	assert.Equal(t, " spaced ", got)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = ReadFile(empty)
	assert.Error(t, err)

	big := filepath.Join(dir, "big")
	require.NoError(t, os.WriteFile(big, make([]byte, maxFileSize+1), 0o600))
	_, err = ReadFile(big)
	assert.Error(t, err)

	_, err = ReadFile(dir)
	assert.Error(t, err)

	_, err = ReadFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestResolveAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mqtt")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))
	t.Setenv("CHURN_DB_PASSWORD", "from-env")

	db := "${CHURN_DB_PASSWORD}"
	mqtt := FilePrefix + path
	plain := "plain"
	empty := ""

	require.NoError(t, ResolveAll(map[string]*string{
		"mysql.password": &db,
		"mqtt.password":  &mqtt,
		"orthanc":        &plain,
		"unset":          &empty,
		"nil":            nil,
	}))
	assert.Equal(t, "from-env", db)
	assert.Equal(t, "from-file", mqtt)
	assert.Equal(t, "plain", plain)
	assert.Empty(t, empty)

	bad := "${CHURN_UNSET_SECRET}"
	err := ResolveAll(map[string]*string{"sentry.dsn": &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentry.dsn")
	assert.Equal(t, "${CHURN_UNSET_SECRET}", bad)
}
