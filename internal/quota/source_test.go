package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_Missing(t *testing.T) {
	keys, err := FileSource{Path: filepath.Join(t.TempDir(), "nope.yaml")}.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileSource_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keys: [unclosed\n"), 0o600))

	_, err := FileSource{Path: path}.Keys(context.Background())
	assert.Error(t, err)
}

func TestFileSource_TrimsBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keys:\n  - ' a '\n  - ''\n  - b\n"), 0o600))

	keys, err := FileSource{Path: path}.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestMultiSource_DedupPreservesOrder(t *testing.T) {
	src := MultiSource{StaticSource{"b", "a"}, StaticSource{"a", "c"}}
	keys, err := src.Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}
