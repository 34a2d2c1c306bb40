package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fraudshield/fraudshield/internal/cache"
	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/repository"
)

type payload struct {
	Name    string    `json:"name"`
	Weights []float64 `json:"weights"`
}

func TestCodec(t *testing.T) {
	in := payload{Name: "forest", Weights: []float64{0.1, 1.0 / 3.0, 42}}

	blob, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// zstd frame magic
	if !bytes.HasPrefix(blob, []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Errorf("expected zstd frame, got %x", blob[:4])
	}

	var out payload
	if err := Decode(blob, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Name != in.Name || len(out.Weights) != 3 || out.Weights[1] != in.Weights[1] {
		t.Errorf("round trip mismatch: %+v", out)
	}

	t.Run("Corrupt", func(t *testing.T) {
		if err := Decode([]byte("not zstd"), &out); err == nil {
			t.Error("expected error for corrupt blob")
		}
	})
}

func TestCodecConcurrentUse(t *testing.T) {
	if zenc == nil || zdec == nil {
		t.Fatal("shared zstd coders were not built")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := payload{Name: fmt.Sprintf("model-%d", i), Weights: []float64{float64(i)}}
			blob, err := Encode(in)
			if err != nil {
				errs <- err
				return
			}
			var out payload
			if err := Decode(blob, &out); err != nil {
				errs <- err
				return
			}
			if out.Name != in.Name {
				errs <- fmt.Errorf("got %s, want %s", out.Name, in.Name)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func exerciseStore(t *testing.T, store domain.ArtifactStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.LoadArtifact(ctx, "fraud_model"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}

	if err := store.SaveArtifact(ctx, "fraud_model", []byte("v1")); err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if err := store.SaveArtifact(ctx, "fraud_model", []byte("v2")); err != nil {
		t.Fatalf("SaveArtifact overwrite failed: %v", err)
	}

	got, err := store.LoadArtifact(ctx, "fraud_model")
	if err != nil {
		t.Fatalf("LoadArtifact failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("expected v2, got %q", got)
	}
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "models")
	store := NewFileStore(dir)
	exerciseStore(t, store)

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("ReadDir failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Name() != "fraud_model.zst" {
			t.Errorf("unexpected directory contents: %v", entries)
		}
	})

	t.Run("RejectsPathNames", func(t *testing.T) {
		for _, name := range []string{"", "../escape", "a/b", ".."} {
			if err := store.SaveArtifact(context.Background(), name, []byte("x")); err == nil {
				t.Errorf("expected error for name %q", name)
			}
		}
	})
}

func TestCacheStore(t *testing.T) {
	exerciseStore(t, NewCacheStore(cache.NewLRUCache(10)))
}

func TestNew(t *testing.T) {
	lru := cache.NewLRUCache(10)
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "artifacts.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	tests := []struct {
		kind    string
		wantErr bool
	}{
		{"file", false},
		{"", false},
		{"sql", false},
		{"cache", false},
		{"s3", true},
	}
	for _, tt := range tests {
		t.Run("Kind_"+tt.kind, func(t *testing.T) {
			cfg := domain.ModelConfig{ArtifactStore: tt.kind, ArtifactDir: t.TempDir()}
			store, err := New(cfg, repo, lru)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			exerciseStore(t, store)
		})
	}

	t.Run("MissingCollaborators", func(t *testing.T) {
		if _, err := New(domain.ModelConfig{ArtifactStore: "sql"}, nil, nil); err == nil {
			t.Error("expected error for sql store without repository")
		}
		if _, err := New(domain.ModelConfig{ArtifactStore: "cache"}, nil, nil); err == nil {
			t.Error("expected error for cache store without cache")
		}
	})
}
