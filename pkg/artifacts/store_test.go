package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/uiagent/pkg/config"
	"github.com/devicelab-dev/uiagent/pkg/core"
)

func TestFileStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	key := core.ScreenshotKey("run-1", 3)
	require.NoError(t, s.Put(context.Background(), key, core.ContentTypeJPEG, []byte("jpeg")))

	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got)

	_, err = os.Stat(filepath.Join(dir, "runs", "run-1", "steps", "0003.jpg"))
	assert.NoError(t, err)
}

func TestFileStore_Missing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "runs/none.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../outside", "/abs/path", ""} {
		assert.Error(t, s.Put(context.Background(), key, "", nil), key)
	}
}

func TestOpen(t *testing.T) {
	st, err := Open(context.Background(), config.ArtifactsConfig{Backend: "fs", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, st)

	_, err = Open(context.Background(), config.ArtifactsConfig{Backend: "ftp"})
	assert.Error(t, err)
}

func TestS3Store_ObjectKey(t *testing.T) {
	s := &S3Store{prefix: "uiagent"}
	assert.Equal(t, "uiagent/runs/r/steps/0000.jpg", s.objectKey(core.ScreenshotKey("r", 0)))
	s.prefix = ""
	assert.Equal(t, "runs/r/steps/0000.jpg", s.objectKey(core.ScreenshotKey("r", 0)))
}
