// Package registry stores the elements the extractor has found, keyed by
// realm ID with a secondary per-file index for bulk eviction.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/realm/internal/extract"
)

const extractionCacheSize = 256

// Registry is the indexed element store. Re-registering a key replaces the
// entry; conflict policy lives in the sync engine, not here. ClearFile is
// the only eviction path; the registry does no staleness detection itself.
type Registry struct {
	mu       sync.RWMutex
	elements map[string]*extract.ElementInfo

	// Roaring bitmap index: file path -> set of element ordinals.
	// Keeps ClearFile at O(elements-in-file) instead of a full scan.
	fileToOrds map[string]*roaring.Bitmap
	keyToOrd   map[string]uint32
	ordToKey   []string

	// Extraction results keyed by path plus content hash, so re-extracting
	// an unchanged file is a cache hit.
	cache *lru.Cache[string, *extract.Result]
}

func New() *Registry {
	cache, _ := lru.New[string, *extract.Result](extractionCacheSize)
	return &Registry{
		elements:   make(map[string]*extract.ElementInfo),
		fileToOrds: make(map[string]*roaring.Bitmap),
		keyToOrd:   make(map[string]uint32),
		cache:      cache,
	}
}

// Register stores an element snapshot, replacing any entry under the same key.
func (r *Registry) Register(el *extract.ElementInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := el.ID.Key()
	r.elements[key] = el

	ord, known := r.keyToOrd[key]
	if !known {
		ord = uint32(len(r.ordToKey))
		r.keyToOrd[key] = ord
		r.ordToKey = append(r.ordToKey, key)
	}

	bm := r.fileToOrds[el.ID.FilePath]
	if bm == nil {
		bm = roaring.New()
		r.fileToOrds[el.ID.FilePath] = bm
	}
	bm.Add(ord)
}

// RegisterAll registers every element of an extraction result and caches the
// result under the file's content hash.
func (r *Registry) RegisterAll(path string, contentHash string, res *extract.Result) {
	for _, el := range res.Elements {
		r.Register(el)
	}
	r.cache.Add(cacheKey(path, contentHash), res)
}

// Get returns the element for a realm key, or nil.
func (r *Registry) Get(key string) *extract.ElementInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.elements[key]
}

// AllForFile returns every registered element extracted from path.
func (r *Registry) AllForFile(path string) []*extract.ElementInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm := r.fileToOrds[path]
	if bm == nil {
		return nil
	}
	out := make([]*extract.ElementInfo, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		key := r.ordToKey[it.Next()]
		if el, ok := r.elements[key]; ok {
			out = append(out, el)
		}
	}
	return out
}

// KeysForFile returns the realm keys registered for path.
func (r *Registry) KeysForFile(path string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bm := r.fileToOrds[path]
	if bm == nil {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, r.ordToKey[it.Next()])
	}
	return out
}

// ClearFile evicts every element extracted from path, plus any cached
// extraction results for it. Must be called whenever the file changes on
// disk, including writes made by the mutation engine itself.
func (r *Registry) ClearFile(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	bm := r.fileToOrds[path]
	if bm == nil {
		return 0
	}
	removed := 0
	it := bm.Iterator()
	for it.HasNext() {
		key := r.ordToKey[it.Next()]
		if _, ok := r.elements[key]; ok {
			delete(r.elements, key)
			removed++
		}
	}
	delete(r.fileToOrds, path)

	// Cached extractions for this path are stale regardless of hash.
	for _, ck := range r.cache.Keys() {
		if pathOfCacheKey(ck) == path {
			r.cache.Remove(ck)
		}
	}
	return removed
}

// CachedResult returns a previously registered extraction for the exact
// path and content hash, if still cached.
func (r *Registry) CachedResult(path, contentHash string) (*extract.Result, bool) {
	return r.cache.Get(cacheKey(path, contentHash))
}

// Len returns the number of registered elements.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.elements)
}

// HashContent returns the content hash used for extraction caching.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:8])
}

func cacheKey(path, contentHash string) string {
	return path + "\x00" + contentHash
}

func pathOfCacheKey(ck string) string {
	for i := 0; i < len(ck); i++ {
		if ck[i] == 0 {
			return ck[:i]
		}
	}
	return ck
}
