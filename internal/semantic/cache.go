package semantic

import (
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// CurrentCacheVersion is the on-disk format version of the vector cache.
const CurrentCacheVersion = 1

// ErrCorruptCache is returned by OpenCache when the file cannot be decoded.
// The returned cache is still usable and starts empty.
var ErrCorruptCache = errors.New("document vector cache is unreadable")

// VectorCache memoises whole-document embeddings keyed by content hash and
// model. Deleting the file only costs recomputation.
type VectorCache struct {
	path string

	mu      sync.Mutex
	entries map[string][]float32
	dirty   bool
}

type cacheFile struct {
	Version int
	Entries map[string][]float32
}

// CacheKey derives the cache key for text embedded by model.
func CacheKey(model, text string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// OpenCache loads the cache at path. A missing file yields an empty cache.
func OpenCache(path string) (*VectorCache, error) {
	c := &VectorCache{path: path, entries: make(map[string][]float32)}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return c, fmt.Errorf("opening vector cache: %w", err)
	}
	defer f.Close()

	var cf cacheFile
	if err := gob.NewDecoder(f).Decode(&cf); err != nil {
		return c, fmt.Errorf("%w: %v", ErrCorruptCache, err)
	}
	if cf.Version != CurrentCacheVersion {
		return c, fmt.Errorf("%w: version %d, want %d", ErrCorruptCache, cf.Version, CurrentCacheVersion)
	}
	if cf.Entries != nil {
		c.entries = cf.Entries
	}
	return c, nil
}

// Get returns the cached vector for key.
func (c *VectorCache) Get(key string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Put stores vec under key.
func (c *VectorCache) Put(key string, vec []float32) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = vec
	c.dirty = true
}

// Len returns the number of cached vectors.
func (c *VectorCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save writes the cache if it changed since the last save.
// Uses atomic write (temp file + rename).
func (c *VectorCache) Save() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tempPath := c.path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(cacheFile{Version: CurrentCacheVersion, Entries: c.entries}); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("encoding vector cache: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tempPath, c.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	c.dirty = false
	return nil
}
