package wa

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalQR(t *testing.T) {
	art, err := terminalQR("2@abc,def,ghi")
	require.NoError(t, err)
	assert.Greater(t, strings.Count(art, "\n"), 10)
}

func TestWriteQRImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.png")
	require.NoError(t, writeQRImage(path, "2@abc,def,ghi"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
}

func TestWriteQRImageBadPath(t *testing.T) {
	err := writeQRImage(filepath.Join(t.TempDir(), "missing", "pair.png"), "2@abc")
	assert.Error(t, err)
}
