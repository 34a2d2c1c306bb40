package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fraudshield/fraudshield/internal/domain"
)

// New returns the artifact store selected by cfg.ArtifactStore. The SQL
// store is the repository itself; the cache store needs a cache.
func New(cfg domain.ModelConfig, repo domain.ArtifactStore, cache domain.Cache) (domain.ArtifactStore, error) {
	switch cfg.ArtifactStore {
	case "", "file":
		return NewFileStore(cfg.ArtifactDir), nil

	case "sql":
		if repo == nil {
			return nil, fmt.Errorf("sql artifact store requires a repository")
		}
		return repo, nil

	case "cache":
		if cache == nil {
			return nil, fmt.Errorf("cache artifact store requires a cache")
		}
		return NewCacheStore(cache), nil

	default:
		return nil, fmt.Errorf("unsupported artifact store: %s", cfg.ArtifactStore)
	}
}

// FileStore keeps each artifact as a file in a local directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "./models"
	}
	return &FileStore{dir: dir}
}

// SaveArtifact writes blob atomically: readers see the old or the new file.
func (s *FileStore) SaveArtifact(ctx context.Context, name string, blob []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install artifact: %w", err)
	}

	slog.Debug("artifact written", "path", path, "bytes", len(blob))
	return nil
}

// LoadArtifact reads the named artifact.
func (s *FileStore) LoadArtifact(ctx context.Context, name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return blob, nil
}

func (s *FileStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(s.dir, name+".zst"), nil
}

// cacheKeyPrefix namespaces artifacts inside a shared cache.
const cacheKeyPrefix = "artifact:"

// CacheStore keeps artifacts in a domain.Cache without expiry. Backed by
// Redis it lets several replicas share one trained model.
type CacheStore struct {
	cache domain.Cache
}

// NewCacheStore wraps cache.
func NewCacheStore(cache domain.Cache) *CacheStore {
	return &CacheStore{cache: cache}
}

// SaveArtifact stores blob under name.
func (s *CacheStore) SaveArtifact(ctx context.Context, name string, blob []byte) error {
	if err := s.cache.Set(ctx, cacheKeyPrefix+name, blob, 0); err != nil {
		return fmt.Errorf("failed to cache artifact: %w", err)
	}
	return nil
}

// LoadArtifact returns the blob stored under name.
func (s *CacheStore) LoadArtifact(ctx context.Context, name string) ([]byte, error) {
	blob, err := s.cache.Get(ctx, cacheKeyPrefix+name)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached artifact: %w", err)
	}
	if blob == nil {
		return nil, domain.ErrNotFound
	}
	return blob, nil
}
