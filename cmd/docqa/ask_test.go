package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyToTemp(t *testing.T) {
	src := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(src, []byte("# Notes\n\nHello."), 0o600))

	path, err := copyToTemp(src)
	require.NoError(t, err)
	defer os.Remove(path)

	assert.Equal(t, ".md", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Notes\n\nHello.", string(data))

	_, err = copyToTemp(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
}
