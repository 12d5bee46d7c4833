package upload_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/mirror/pkg/upload"
)

func newDiskStore(t *testing.T, maxSize int64) (*upload.DiskStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := upload.NewDiskStore(dir, maxSize)
	require.NoError(t, err)
	return store, dir
}

func TestDiskStoreSaveAndClaim(t *testing.T) {
	ctx := context.Background()
	store, dir := newDiskStore(t, 10<<20)

	content := []byte("hello world")
	tempID, err := store.Save(ctx, "test.txt", "text/plain", int64(len(content)), bytes.NewReader(content))
	require.NoError(t, err)
	require.NotEmpty(t, tempID)

	file, err := store.Claim(ctx, tempID)
	require.NoError(t, err)
	assert.Equal(t, "test.txt", file.Filename)
	assert.Equal(t, "text/plain", file.ContentType)
	assert.Equal(t, int64(len(content)), file.Size)
	assert.Equal(t, filepath.Join(dir, tempID), file.Path)

	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	require.NoError(t, file.Close())
	assert.NoFileExists(t, filepath.Join(dir, tempID))
	assert.NoFileExists(t, filepath.Join(dir, tempID+".meta"))

	_, err = store.Claim(ctx, tempID)
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestDiskStoreSizeLimit(t *testing.T) {
	ctx := context.Background()
	store, dir := newDiskStore(t, 5)

	_, err := store.Save(ctx, "big.txt", "text/plain", 26, bytes.NewReader([]byte("more than five bytes")))
	assert.ErrorIs(t, err, upload.ErrTooLarge)

	// The declared size is not trusted.
	_, err = store.Save(ctx, "x.txt", "text/plain", 4, bytes.NewReader([]byte("123456")))
	assert.ErrorIs(t, err, upload.ErrTooLarge)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDiskStoreClaimAfterRestart(t *testing.T) {
	ctx := context.Background()
	store, dir := newDiskStore(t, 0)

	content := []byte("persist me")
	tempID, err := store.Save(ctx, "persist.txt", "text/plain", int64(len(content)), bytes.NewReader(content))
	require.NoError(t, err)

	restarted, err := upload.NewDiskStore(dir, 0)
	require.NoError(t, err)
	file, err := restarted.Claim(ctx, tempID)
	require.NoError(t, err)
	defer file.Close()

	assert.Equal(t, "persist.txt", file.Filename)
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDiskStoreClaimNotFound(t *testing.T) {
	ctx := context.Background()
	store, dir := newDiskStore(t, 0)

	// A well-formed id with only a sidecar.
	orphan := upload.NewID()
	meta, err := json.Marshal(map[string]any{
		"filename":     "missing.txt",
		"content_type": "text/plain",
		"size":         3,
		"created_at":   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, orphan+".meta"), meta, 0644))

	for _, id := range []string{"nonexistent", "../../etc/passwd", upload.NewID(), orphan} {
		_, err := store.Claim(ctx, id)
		assert.ErrorIs(t, err, upload.ErrNotFound, id)
	}
}

func TestDiskStoreCleanup(t *testing.T) {
	ctx := context.Background()
	store, dir := newDiskStore(t, 0)

	tempID, err := store.Save(ctx, "temp.txt", "text/plain", 4, bytes.NewReader([]byte("temp")))
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	orphan := filepath.Join(dir, "orphan.bin")
	require.NoError(t, os.WriteFile(orphan, []byte("old"), 0644))
	require.NoError(t, os.Chtimes(orphan, old, old))

	sub := filepath.Join(dir, "keep")
	require.NoError(t, os.MkdirAll(sub, 0755))
	nested := filepath.Join(sub, "nested.bin")
	require.NoError(t, os.WriteFile(nested, []byte("nested"), 0644))
	require.NoError(t, os.Chtimes(nested, old, old))

	require.NoError(t, store.Cleanup(ctx, time.Hour))
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, filepath.Join(dir, tempID))
	assert.FileExists(t, nested)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Cleanup(ctx, time.Nanosecond))
	assert.NoFileExists(t, filepath.Join(dir, tempID))
	assert.DirExists(t, sub)
}

type closeTracker struct{ closed bool }

func (c *closeTracker) Read([]byte) (int, error) { return 0, io.EOF }
func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestFileClose(t *testing.T) {
	tracker := &closeTracker{}
	require.NoError(t, (&upload.File{Reader: tracker}).Close())
	assert.True(t, tracker.closed)

	empty := &upload.File{}
	assert.NoError(t, empty.Close())
	n, err := empty.Read(make([]byte, 4))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

type claimOnlyStore struct {
	upload.Store
	gotID string
	file  *upload.File
}

func (s *claimOnlyStore) Claim(_ context.Context, tempID string) (*upload.File, error) {
	s.gotID = tempID
	return s.file, nil
}

func TestClaimDelegatesToStore(t *testing.T) {
	want := &upload.File{ID: "abc"}
	store := &claimOnlyStore{file: want}

	got, err := upload.Claim(context.Background(), store, "temp123")
	require.NoError(t, err)
	assert.Equal(t, "temp123", store.gotID)
	assert.Same(t, want, got)
}
