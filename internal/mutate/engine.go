package mutate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	billyutil "github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/realm/internal/writeback"
)

// rewriter is one file-format strategy.
type rewriter interface {
	apply(content []byte, chain Chain, ch Changes) ([]byte, error)
}

// Engine applies visual edits to source files. Every mutation is a byte
// splice on the original content, and the result must re-parse cleanly
// before it is accepted.
type Engine struct {
	policy MatchPolicy
}

func NewEngine(policy MatchPolicy) *Engine {
	return &Engine{policy: policy}
}

// ApplyChanges rewrites content according to the selector and returns the
// new bytes. The input slice is never modified. Formats without a grammar
// (scss, sass) skip re-parse validation but still go through the matcher.
func (e *Engine) ApplyChanges(content []byte, path, selector string, ch Changes) ([]byte, error) {
	if ch.Empty() {
		return nil, ErrNoChanges
	}
	chain, err := ParseSelector(selector)
	if err != nil {
		return nil, fmt.Errorf("parse selector %q: %w", selector, err)
	}

	rw, err := e.rewriterFor(path)
	if err != nil {
		return nil, err
	}
	out, err := rw.apply(content, chain, ch)
	if err != nil {
		return nil, err
	}

	if err := writeback.Validate(out, path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return out, nil
}

// ApplyToFile reads, rewrites, and atomically replaces a file on the given
// filesystem.
func (e *Engine) ApplyToFile(fs billy.Filesystem, path, selector string, ch Changes) error {
	content, err := billyutil.ReadFile(fs, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out, err := e.ApplyChanges(content, path, selector, ch)
	if err != nil {
		return err
	}
	if err := writeback.WriteFileAtomic(fs, path, out); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (e *Engine) rewriterFor(path string) (rewriter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx", ".jsx", ".ts", ".js", ".mjs", ".cjs":
		return &jsxRewriter{policy: e.policy}, nil
	case ".css", ".scss", ".sass":
		return &cssRewriter{}, nil
	case ".html", ".htm":
		return &htmlRewriter{policy: e.policy}, nil
	default:
		return nil, fmt.Errorf("unsupported file type %s", path)
	}
}
