package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ElementID identifies one rendered element occurrence. It is derived only
// from the element's location and content, so re-parsing an unchanged file
// reproduces the same ID for the same element.
type ElementID struct {
	FilePath  string
	Component string // enclosing component name, "" at module scope
	TreePath  string // kind[index] chain from the file root
	Hash      string // content fingerprint
	Version   int    // starts at 1, incremented by successful commits
}

// Key renders the stable string form used as registry key and wire realmId.
func (id ElementID) Key() string {
	return id.FilePath + "#" + id.Component + "#" + id.TreePath + "#" + id.Hash
}

// FileForKey recovers the source file path from a realm key.
func FileForKey(key string) string {
	if i := strings.Index(key, "#"); i >= 0 {
		return key[:i]
	}
	return ""
}

// ParseKey splits a realm key back into its identifier parts. The version
// is not part of the key and comes back zero.
func ParseKey(key string) (ElementID, error) {
	parts := strings.SplitN(key, "#", 4)
	if len(parts) != 4 || parts[0] == "" || parts[3] == "" {
		return ElementID{}, fmt.Errorf("malformed realm key %q", key)
	}
	return ElementID{
		FilePath:  parts[0],
		Component: parts[1],
		TreePath:  parts[2],
		Hash:      parts[3],
	}, nil
}

// Signature is the per-file framework fingerprint. It is a cheap heuristic
// over the raw text, not a semantic analysis.
type Signature struct {
	Framework   string // "react" or ""
	Styling     string // "tailwind", "css-modules", "styled-components", "inline", ""
	IsComponent bool
}

// ElementInfo is the immutable snapshot of one extracted element. It is
// superseded wholesale when its file is re-extracted.
type ElementInfo struct {
	ID         ElementID
	TagName    string
	NthOfType  int               // 1-based position among same-tag siblings
	Attributes map[string]string // className, id, and every other attribute
	Styles     map[string]string // parsed inline style object, nil if absent

	// DirectText is only the text that is an immediate child of this
	// element. FullText includes descendant text. The two diverge exactly
	// when HasNestedElements is true, and edits to a parent must never
	// clobber nested children's content.
	DirectText        string
	FullText          string
	HasNestedElements bool

	Signature Signature
}

// ParseError records a syntax error survived during tolerant extraction.
type ParseError struct {
	Line    uint32
	Column  uint32
	Message string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line+1, e.Column+1, e.Message)
}

// Result is the outcome of extracting one file.
type Result struct {
	Elements []*ElementInfo
	Errors   []ParseError
}

// fingerprint hashes the element's observable content. Attribute order is
// canonicalized so map iteration cannot perturb the hash.
func fingerprint(tag string, attrs map[string]string, directText string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(tag))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(attrs[k]))
	}
	h.Write([]byte{0})
	h.Write([]byte(directText))
	return hex.EncodeToString(h.Sum(nil))[:12]
}
