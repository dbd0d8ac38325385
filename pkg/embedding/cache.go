package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// cacheFile is one model's worth of cached vectors, keyed by the SHA-256
// of the text that produced them.
type cacheFile struct {
	ModelName string               `cbor:"model_name"`
	Vectors   map[string][]float32 `cbor:"vectors"`
}

// Cache wraps an Embedder with a persistent content-hash-keyed cache file,
// one file per model name. CBOR is the on-disk format.
type Cache struct {
	inner Embedder
	path  string

	mu    sync.Mutex
	data  cacheFile
	dirty bool
}

// NewCache wraps inner with a cache file at dir/<model-name>.cbor.
func NewCache(inner Embedder, dir string) *Cache {
	safe := sanitizeModelName(inner.ModelName())
	return &Cache{
		inner: inner,
		path:  filepath.Join(dir, safe+".cbor"),
		data:  cacheFile{ModelName: inner.ModelName(), Vectors: make(map[string][]float32)},
	}
}

func sanitizeModelName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Load restores the cache file from disk, if present. A missing file is not
// an error: the cache simply starts empty.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("embedding: read cache %s: %w", c.path, err)
	}

	var cf cacheFile
	if err := cbor.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("embedding: decode cache %s: %w", c.path, err)
	}
	if cf.Vectors == nil {
		cf.Vectors = make(map[string][]float32)
	}
	c.data = cf
	return nil
}

// Save persists the cache file to disk if it has unflushed entries.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	encoded, err := cbor.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("embedding: encode cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("embedding: write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// get performs the compare-and-set lookup: a cache hit never calls inner, a
// miss computes once and the slot is "set" without ever being overwritten by
// a concurrent writer producing the same key (the embedding for a fixed text
// under a fixed model is deterministic, so any concurrent writer agrees).
func (c *Cache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data.Vectors[key]
	return v, ok
}

func (c *Cache) put(key string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data.Vectors[key]; exists {
		return
	}
	c.data.Vectors[key] = v
	c.dirty = true
}

// EmbedText implements Embedder, serving from cache when possible.
func (c *Cache) EmbedText(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if v, ok := c.get(key); ok {
		return v, nil
	}
	v, err := c.inner.EmbedText(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(key, v)
	return v, nil
}

// EmbedBatch implements Embedder, serving cached entries and only calling
// inner for the texts that actually missed.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if v, ok := c.get(contentHash(t)); ok {
			out[i] = v
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
		}
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		c.put(contentHash(missTexts[j]), vecs[j])
	}
	return out, nil
}

func (c *Cache) Dimension() int    { return c.inner.Dimension() }
func (c *Cache) ModelName() string { return c.inner.ModelName() }
