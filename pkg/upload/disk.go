package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	metaSuffix    = ".meta"
	partialSuffix = ".partial"
)

// DiskStore keeps uploads in a local directory. The content of an upload
// is stored in a file named by its ID and its metadata in a JSON sidecar
// next to it, so a restarted process can still claim it.
type DiskStore struct {
	dir     string
	maxSize int64

	mu      sync.Mutex
	claimed map[string]struct{}
}

// sidecar is the on-disk metadata of an upload.
type sidecar struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDiskStore creates dir if needed. Files larger than maxSize bytes are
// refused; 0 disables the limit.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir, maxSize: maxSize, claimed: make(map[string]struct{})}, nil
}

func (s *DiskStore) dataPath(id string) string { return filepath.Join(s.dir, id) }
func (s *DiskStore) metaPath(id string) string { return filepath.Join(s.dir, id+metaSuffix) }

// Save writes r to a partial file and renames it into place once the
// content and its sidecar are complete. The declared size is only used to
// fail early; the limit is enforced on the bytes actually read.
func (s *DiskStore) Save(ctx context.Context, filename, contentType string, size int64, r io.Reader) (string, error) {
	if s.maxSize > 0 && size > s.maxSize {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := NewID()
	partial := s.dataPath(id) + partialSuffix
	written, err := s.writeLimited(partial, r)
	if err != nil {
		os.Remove(partial)
		return "", err
	}

	meta, err := json.Marshal(sidecar{
		Filename:    filename,
		ContentType: contentType,
		Size:        written,
		CreatedAt:   time.Now().UTC(),
	})
	if err == nil {
		err = os.WriteFile(s.metaPath(id), meta, 0o644)
	}
	if err == nil {
		err = os.Rename(partial, s.dataPath(id))
	}
	if err != nil {
		os.Remove(partial)
		os.Remove(s.metaPath(id))
		return "", err
	}
	return id, nil
}

func (s *DiskStore) writeLimited(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	if s.maxSize > 0 {
		r = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && s.maxSize > 0 && n > s.maxSize {
		err = ErrTooLarge
	}
	return n, err
}

// Claim opens an upload for reading. Both files are removed when the
// returned File is closed. An upload can be claimed once.
func (s *DiskStore) Claim(ctx context.Context, tempID string) (*File, error) {
	if !validID(tempID) {
		return nil, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.claimed[tempID]; busy {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(s.metaPath(tempID))
	if err != nil {
		return nil, ErrNotFound
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, ErrNotFound
	}
	f, err := os.Open(s.dataPath(tempID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.claimed[tempID] = struct{}{}
	return &File{
		ID:          tempID,
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Size:        meta.Size,
		Path:        f.Name(),
		Reader:      &claimedFile{File: f, store: s, id: tempID},
	}, nil
}

func (s *DiskStore) release(id string) {
	os.Remove(s.dataPath(id))
	os.Remove(s.metaPath(id))
	s.mu.Lock()
	delete(s.claimed, id)
	s.mu.Unlock()
}

// Cleanup removes every regular file in the directory whose modification
// time is older than maxAge, whether or not this store wrote it.
// Subdirectories and claimed uploads are left alone.
func (s *DiskStore) Cleanup(ctx context.Context, maxAge time.Duration) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		id := name
		if ext := filepath.Ext(name); ext == metaSuffix || ext == partialSuffix {
			id = name[:len(name)-len(ext)]
		}
		if _, busy := s.claimed[id]; busy {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		os.Remove(filepath.Join(s.dir, name))
	}
	return nil
}

// claimedFile releases the upload on Close.
type claimedFile struct {
	*os.File
	store *DiskStore
	id    string
	once  sync.Once
}

func (c *claimedFile) Close() error {
	err := c.File.Close()
	c.once.Do(func() { c.store.release(c.id) })
	return err
}
