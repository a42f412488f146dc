// Package blob implements the cold tier on the local filesystem.
// Payloads are zstd-compressed and written atomically via a unique temp
// file and rename, so readers always see either a complete object or
// "not found". Integrity is checksum-based: the archive index records
// the payload's SHA-256 at migration time and readers verify it.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/coldfront/coldfront/internal/store"
)

const objectExt = ".zst"

// Store is a filesystem-backed store.ColdStore.
type Store struct {
	dir string

	// Compression encoder/decoder pools for reuse
	encoderPool sync.Pool
	decoderPool sync.Pool
}

// New creates a cold store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	s := &Store{dir: dir}
	s.encoderPool = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	s.decoderPool = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
	return s, nil
}

// Put stores a payload under key. Overwrites are allowed; migration
// retries write byte-identical content, so the last rename wins and the
// object is the same either way.
func (s *Store) Put(ctx context.Context, key string, payload []byte) error {
	objectPath, err := s.objectPath(key, true)
	if err != nil {
		return err
	}

	compressed := s.compress(payload)

	tmpFile, err := os.CreateTemp(filepath.Dir(objectPath), ".object-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", store.ErrColdWrite, err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(compressed); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write object: %v", store.ErrColdWrite, err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: sync object: %v", store.ErrColdWrite, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp file: %v", store.ErrColdWrite, err)
	}

	if err := os.Rename(tmpPath, objectPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename object: %v", store.ErrColdWrite, err)
	}
	return nil
}

// Get retrieves and decompresses the payload stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	objectPath, err := s.objectPath(key, false)
	if err != nil {
		return nil, err
	}

	compressed, err := os.ReadFile(objectPath)
	if os.IsNotExist(err) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	payload, err := s.decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress object %s: %v", store.ErrCorrupt, key, err)
	}
	return payload, nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	objectPath, err := s.objectPath(key, false)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(objectPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object stored under key. Absent objects are not an
// error.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectPath, err := s.objectPath(key, false)
	if err != nil {
		return err
	}
	if err := os.Remove(objectPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Count returns the number of stored objects.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, objectExt) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count objects: %w", err)
	}
	return n, nil
}

// objectPath returns the filesystem path for a key. A two-level fan-out
// keeps any one directory from accumulating too many files.
func (s *Store) objectPath(key string, mkdir bool) (string, error) {
	if key == "" || strings.ContainsAny(key, "/\\") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	dir := s.dir
	if len(key) >= 2 {
		dir = filepath.Join(s.dir, key[:2])
	}
	if mkdir {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("%w: create object dir: %v", store.ErrColdWrite, err)
		}
	}
	return filepath.Join(dir, key+objectExt), nil
}

func (s *Store) compress(data []byte) []byte {
	enc := s.encoderPool.Get().(*zstd.Encoder)
	defer s.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil)
}

func (s *Store) decompress(data []byte) ([]byte, error) {
	dec := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}
