package mutate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
)

// cssRewriter edits declaration blocks in stylesheets. Only style changes
// apply here; class and text changes have no stylesheet counterpart.
type cssRewriter struct{}

func (r *cssRewriter) apply(content []byte, chain Chain, ch Changes) ([]byte, error) {
	if len(ch.Styles) == 0 {
		return nil, ErrNoChanges
	}

	parser := sitter.NewParser()
	parser.SetLanguage(css.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("unparseable stylesheet: %w", err)
	}

	block := findRuleBlock(tree.RootNode(), content, chain)
	if block == nil {
		return nil, ErrNoMatch
	}

	edits := declarationEdits(block, content, ch.Styles)
	if len(edits) == 0 {
		return nil, ErrNoChanges
	}
	return applyEdits(content, edits), nil
}

// findRuleBlock locates the first rule_set whose selector addresses the
// chain's target class or id, and returns its block node.
func findRuleBlock(root *sitter.Node, src []byte, chain Chain) *sitter.Node {
	target := chain.Target()
	wanted := ruleSelectorFor(target)
	if wanted == "" {
		return nil
	}

	var found *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found != nil {
			return
		}
		if n.Type() == "rule_set" {
			sel := n.NamedChild(0)
			if sel != nil && selectorCovers(sel.Content(src), wanted) {
				count := int(n.NamedChildCount())
				for i := 0; i < count; i++ {
					if child := n.NamedChild(i); child != nil && child.Type() == "block" {
						found = child
						return
					}
				}
			}
		}
		count := int(n.NamedChildCount())
		for i := 0; i < count; i++ {
			if child := n.NamedChild(i); child != nil {
				walk(child)
			}
		}
	}
	walk(root)
	return found
}

// ruleSelectorFor derives the stylesheet selector the target corresponds
// to: the first class wins, then the id, then the bare tag.
func ruleSelectorFor(seg Segment) string {
	if len(seg.Classes) > 0 {
		return "." + seg.Classes[0]
	}
	if seg.ID != "" {
		return "#" + seg.ID
	}
	return seg.Tag
}

// selectorCovers reports whether a rule's selector text contains the wanted
// simple selector as a whole token.
func selectorCovers(ruleSelector, wanted string) bool {
	for _, part := range strings.Split(ruleSelector, ",") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, wanted)
		for idx >= 0 {
			end := idx + len(wanted)
			before := idx == 0 || !isSelectorIdent(rune(part[idx-1]))
			after := end == len(part) || !isSelectorIdent(rune(part[end]))
			if before && after {
				return true
			}
			next := strings.Index(part[end:], wanted)
			if next < 0 {
				break
			}
			idx = end + next
		}
	}
	return false
}

func isSelectorIdent(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
}

// declarationEdits replaces matching declarations in place and appends the
// rest before the closing brace. Property names arrive camelCased from the
// wire and are kebab-cased here.
func declarationEdits(block *sitter.Node, src []byte, styles map[string]string) []edit {
	remaining := make(map[string]string, len(styles))
	for k, v := range styles {
		remaining[kebabCase(k)] = v
	}

	var edits []edit
	count := int(block.NamedChildCount())
	for i := 0; i < count; i++ {
		decl := block.NamedChild(i)
		if decl == nil || decl.Type() != "declaration" {
			continue
		}
		prop := decl.NamedChild(0)
		if prop == nil || prop.Type() != "property_name" {
			continue
		}
		name := prop.Content(src)
		newVal, hit := remaining[name]
		if !hit {
			continue
		}
		start, end := declarationValueRange(decl, src)
		if start < end {
			edits = append(edits, edit{start: start, end: end, text: newVal})
			delete(remaining, name)
		}
	}

	if len(remaining) > 0 {
		keys := make([]string, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		indent := blockIndent(block, src)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(indent)
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(remaining[k])
			b.WriteString(";\n")
		}
		insert := block.EndByte() - 1 // before '}'
		edits = append(edits, edit{start: insert, end: insert, text: b.String()})
	}
	return edits
}

// declarationValueRange spans from after the ':' to before the ';'.
func declarationValueRange(decl *sitter.Node, src []byte) (uint32, uint32) {
	text := decl.Content(src)
	colon := strings.IndexByte(text, ':')
	if colon < 0 {
		return 0, 0
	}
	start := decl.StartByte() + uint32(colon) + 1
	for int(start) < len(src) && src[start] == ' ' {
		start++
	}
	end := decl.EndByte()
	if end > decl.StartByte() && src[end-1] == ';' {
		end--
	}
	return start, end
}

// blockIndent infers the indentation of the block's first declaration so
// appended lines align with their neighbors.
func blockIndent(block *sitter.Node, src []byte) string {
	count := int(block.NamedChildCount())
	for i := 0; i < count; i++ {
		decl := block.NamedChild(i)
		if decl == nil || decl.Type() != "declaration" {
			continue
		}
		start := int(decl.StartByte())
		lineStart := start
		for lineStart > 0 && src[lineStart-1] != '\n' {
			lineStart--
		}
		if ws := string(src[lineStart:start]); strings.TrimSpace(ws) == "" {
			return ws
		}
	}
	return "  "
}

func kebabCase(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsUpper(r) {
			b.WriteByte('-')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
