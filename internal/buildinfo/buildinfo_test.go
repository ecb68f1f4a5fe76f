package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Parallel()

	info := New("", "2024-05-01")
	assert.Equal(t, "unknown", info.Version)
	assert.Equal(t, "2024-05-01", info.BuildDate)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, "unknown (built 2024-05-01, "+runtime.Version()+")", info.String())
}
