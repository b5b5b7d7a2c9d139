// Package mutate maps DOM selectors back to syntax-tree nodes in real
// source files and rewrites only the targeted node's style, class, or text,
// leaving every other byte untouched. A failed or ambiguous match never
// modifies anything: the engine returns ErrNoMatch and the caller keeps the
// original content.
package mutate

import "errors"

var (
	// ErrNoMatch means the selector resolved to no node. The input file
	// must be left untouched.
	ErrNoMatch = errors.New("selector matched no element")

	// ErrNoChanges means the change set was empty or nothing applicable
	// could be rewritten on the matched node.
	ErrNoChanges = errors.New("no applicable changes")

	// ErrValidation means the regenerated source failed to re-parse. The
	// rewrite is discarded rather than risking a corrupt file.
	ErrValidation = errors.New("regenerated source failed validation")
)

// Changes is the set of mutations requested for one element.
type Changes struct {
	Styles    map[string]string // merged into the inline style object
	ClassName *string           // replaces/merges the className attribute
	Text      *string           // replaces direct text content
}

// Empty reports whether there is nothing to do.
func (c Changes) Empty() bool {
	return len(c.Styles) == 0 && c.ClassName == nil && c.Text == nil
}

// MatchPolicy carries the class-match heuristic thresholds. The defaults
// reproduce observed behavior; they are policy, not invariants.
type MatchPolicy struct {
	MinForwardMatches int     // acceptance floor for partial forward matches
	ForwardRatio      float64 // fraction of target classes that must appear
	ReverseRatio      float64 // fraction of source classes found in target (wrapper case)
}

// DefaultMatchPolicy returns the thresholds used when none are configured.
func DefaultMatchPolicy() MatchPolicy {
	return MatchPolicy{
		MinForwardMatches: 2,
		ForwardRatio:      0.5,
		ReverseRatio:      0.5,
	}
}
