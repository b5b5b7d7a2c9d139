package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/realm/internal/extract"
)

func element(file, component, path string) *extract.ElementInfo {
	return &extract.ElementInfo{
		ID: extract.ElementID{
			FilePath:  file,
			Component: component,
			TreePath:  path,
			Hash:      "abcd",
		},
		TagName:    "div",
		Attributes: map[string]string{"className": "x"},
	}
}

func TestRegister_GetAndReplace(t *testing.T) {
	r := New()

	el := element("a.tsx", "App", "p[0]")
	r.Register(el)
	require.Equal(t, 1, r.Len())

	got := r.Get(el.ID.Key())
	require.NotNil(t, got)
	assert.Equal(t, el, got)

	// same key, new snapshot: last write wins at this layer
	repl := element("a.tsx", "App", "p[0]")
	repl.TagName = "section"
	r.Register(repl)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "section", r.Get(el.ID.Key()).TagName)
}

func TestAllForFile_And_ClearFile(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.Register(element("a.tsx", "App", fmt.Sprintf("p[%d]", i)))
	}
	for i := 0; i < 3; i++ {
		r.Register(element("b.tsx", "Nav", fmt.Sprintf("p[%d]", i)))
	}

	assert.Len(t, r.AllForFile("a.tsx"), 5)
	assert.Len(t, r.AllForFile("b.tsx"), 3)
	assert.Len(t, r.KeysForFile("b.tsx"), 3)
	assert.Nil(t, r.AllForFile("missing.tsx"))

	removed := r.ClearFile("a.tsx")
	assert.Equal(t, 5, removed)
	assert.Empty(t, r.AllForFile("a.tsx"))
	assert.Equal(t, 3, r.Len(), "other files are untouched")

	// clearing twice is a no-op
	assert.Equal(t, 0, r.ClearFile("a.tsx"))
}

func TestExtractionCache(t *testing.T) {
	r := New()
	res := &extract.Result{Elements: []*extract.ElementInfo{element("a.tsx", "App", "p[0]")}}
	hash := HashContent([]byte("contents"))

	r.RegisterAll("a.tsx", hash, res)

	cached, ok := r.CachedResult("a.tsx", hash)
	require.True(t, ok)
	assert.Equal(t, res, cached)

	_, ok = r.CachedResult("a.tsx", HashContent([]byte("different")))
	assert.False(t, ok, "cache is keyed by content hash")

	r.ClearFile("a.tsx")
	_, ok = r.CachedResult("a.tsx", hash)
	assert.False(t, ok, "ClearFile also drops cached extractions")
}

func TestHashContent_Deterministic(t *testing.T) {
	assert.Equal(t, HashContent([]byte("x")), HashContent([]byte("x")))
	assert.NotEqual(t, HashContent([]byte("x")), HashContent([]byte("y")))
}
