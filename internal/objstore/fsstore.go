package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stagegraph/stagegraph/internal/objhash"
)

// FilesystemStore implements Store against a local directory, sharded
// `<base>/<hash[0:2]>/<hash[2:]>`, matching the teacher's
// zeta/backend.fileStorer sharding scheme (file_storer.go). Bytes are
// optionally zstd-compressed on disk, mirroring backend.WithCompressionALGO.
type FilesystemStore struct {
	base     string
	compress bool
}

var _ Store = (*FilesystemStore)(nil)

// NewFilesystemStore creates (if needed) base and returns a Store rooted
// there. When compress is true, blob bytes are zstd-compressed at rest.
func NewFilesystemStore(base string, compress bool) (*FilesystemStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create base dir: %w", err)
	}
	return &FilesystemStore{base: base, compress: compress}, nil
}

func (s *FilesystemStore) shardPath(h objhash.Hash) string {
	hex := h.String()
	return filepath.Join(s.base, hex[0:2], hex[2:])
}

func (s *FilesystemStore) key(h objhash.Hash) string {
	hex := h.String()
	return hex[0:2] + "/" + hex[2:]
}

func (s *FilesystemStore) Store(_ context.Context, b []byte) (objhash.Hash, string, int64, error) {
	h := objhash.Sum(b)
	path := s.shardPath(h)
	if _, err := os.Stat(path); err == nil {
		return h, s.key(h), int64(len(b)), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return h, "", 0, fmt.Errorf("objstore: mkdir: %w", err)
	}
	payload := b
	if s.compress {
		var err error
		payload, err = zstdCompress(b)
		if err != nil {
			return h, "", 0, err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return h, "", 0, fmt.Errorf("objstore: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return h, "", 0, fmt.Errorf("objstore: rename: %w", err)
	}
	return h, s.key(h), int64(len(b)), nil
}

func (s *FilesystemStore) StoreReader(ctx context.Context, r io.Reader) (objhash.Hash, string, int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return objhash.Hash{}, "", 0, fmt.Errorf("objstore: read: %w", err)
	}
	return s.Store(ctx, b)
}

func (s *FilesystemStore) Retrieve(_ context.Context, h objhash.Hash) ([]byte, error) {
	raw, err := os.ReadFile(s.shardPath(h))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("objstore: read: %w", err)
	}
	if s.compress {
		return zstdDecompress(raw)
	}
	return raw, nil
}

func (s *FilesystemStore) Open(ctx context.Context, h objhash.Hash) (io.ReadCloser, error) {
	b, err := s.Retrieve(ctx, h)
	if err != nil || b == nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *FilesystemStore) Exists(_ context.Context, h objhash.Hash) (bool, error) {
	_, err := os.Stat(s.shardPath(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes hash's bytes and prunes the shard directory if it becomes
// empty, matching the teacher's "deletion attempts to prune empty parent
// shard directory" contract (spec.md §4.1).
func (s *FilesystemStore) Delete(_ context.Context, h objhash.Hash) (bool, error) {
	path := s.shardPath(h)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	shard := filepath.Dir(path)
	if entries, err := os.ReadDir(shard); err == nil && len(entries) == 0 {
		_ = os.Remove(shard)
	}
	return true, nil
}

func (s *FilesystemStore) DownloadURL(ctx context.Context, h objhash.Hash, _ time.Duration) (string, error) {
	ok, err := s.Exists(ctx, h)
	if err != nil || !ok {
		return "", err
	}
	return "file://" + s.shardPath(h), nil
}

func zstdCompress(b []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil), nil
}

func zstdDecompress(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}
