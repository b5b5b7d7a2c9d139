package mutate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/html"
)

// htmlRewriter applies the same matching discipline to plain HTML files.
// Styles land in the style attribute, classes in class, text in the
// element body.
type htmlRewriter struct {
	policy MatchPolicy
}

func (r *htmlRewriter) apply(content []byte, chain Chain, ch Changes) ([]byte, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(html.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("unparseable document: %w", err)
	}

	target := findHTMLTarget(tree.RootNode(), content, chain.Target(), r.policy)
	if target == nil {
		return nil, ErrNoMatch
	}

	edits := htmlElementEdits(target, content, ch)
	if len(edits) == 0 {
		return nil, ErrNoChanges
	}
	return applyEdits(content, edits), nil
}

func isHTMLElement(n *sitter.Node) bool {
	t := n.Type()
	return t == "element" || t == "script_element" || t == "style_element"
}

func htmlStartTag(n *sitter.Node) *sitter.Node {
	child := n.NamedChild(0)
	if child != nil && (child.Type() == "start_tag" || child.Type() == "self_closing_tag") {
		return child
	}
	return nil
}

func htmlTagName(n *sitter.Node, src []byte) string {
	start := htmlStartTag(n)
	if start == nil {
		return ""
	}
	count := int(start.NamedChildCount())
	for i := 0; i < count; i++ {
		child := start.NamedChild(i)
		if child != nil && child.Type() == "tag_name" {
			return child.Content(src)
		}
	}
	return ""
}

func htmlAttr(n *sitter.Node, src []byte, name string) (node *sitter.Node, value string, ok bool) {
	start := htmlStartTag(n)
	if start == nil {
		return nil, "", false
	}
	count := int(start.NamedChildCount())
	for i := 0; i < count; i++ {
		attr := start.NamedChild(i)
		if attr == nil || attr.Type() != "attribute" {
			continue
		}
		nameNode := attr.NamedChild(0)
		if nameNode == nil || nameNode.Content(src) != name {
			continue
		}
		if attr.NamedChildCount() < 2 {
			return attr, "", true
		}
		val := attr.NamedChild(1)
		raw := val.Content(src)
		if val.Type() == "quoted_attribute_value" {
			raw = trimQuotes(raw)
		}
		return attr, raw, true
	}
	return nil, "", false
}

func htmlChildElements(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		if child := n.NamedChild(i); child != nil && isHTMLElement(child) {
			out = append(out, child)
		}
	}
	return out
}

func findHTMLTarget(root *sitter.Node, src []byte, seg Segment, policy MatchPolicy) *sitter.Node {
	var roots []*sitter.Node
	count := int(root.NamedChildCount())
	for i := 0; i < count; i++ {
		if child := root.NamedChild(i); child != nil && isHTMLElement(child) {
			roots = append(roots, child)
		}
	}
	return matchHTMLScope(roots, src, seg, policy)
}

func matchHTMLScope(elems []*sitter.Node, src []byte, seg Segment, policy MatchPolicy) *sitter.Node {
	counts := make(map[string]int)
	for _, el := range elems {
		tag := strings.ToLower(htmlTagName(el, src))
		counts[tag]++

		tagOK := seg.Tag == "" || tag == strings.ToLower(seg.Tag)
		if tagOK && counts[tag] == seg.NthOfType && htmlSegmentMatches(el, src, seg, policy) {
			return el
		}
		if found := matchHTMLScope(htmlChildElements(el), src, seg, policy); found != nil {
			return found
		}
	}
	return nil
}

func htmlSegmentMatches(el *sitter.Node, src []byte, seg Segment, policy MatchPolicy) bool {
	if seg.ID != "" {
		_, id, ok := htmlAttr(el, src, "id")
		if !ok || id != seg.ID {
			return false
		}
	}
	if len(seg.Classes) == 0 {
		return true
	}
	_, class, ok := htmlAttr(el, src, "class")
	if !ok {
		return true
	}
	return classesMatch(seg.Classes, strings.Fields(class), policy)
}

func htmlElementEdits(el *sitter.Node, src []byte, ch Changes) []edit {
	var edits []edit

	if len(ch.Styles) > 0 {
		if e, ok := htmlStyleEdit(el, src, ch.Styles); ok {
			edits = append(edits, e)
		}
	}
	if ch.ClassName != nil {
		if e, ok := htmlClassEdit(el, src, *ch.ClassName); ok {
			edits = append(edits, e)
		}
	}
	if ch.Text != nil {
		if e, ok := htmlTextEdit(el, src, *ch.Text); ok {
			edits = append(edits, e)
		}
	}
	return edits
}

// htmlStyleEdit merges declarations into the style attribute's inline CSS.
func htmlStyleEdit(el *sitter.Node, src []byte, styles map[string]string) (edit, bool) {
	attr, existing, ok := htmlAttr(el, src, "style")
	if !ok {
		return htmlInsertAttr(el, src, "style", renderInlineCSS(styles, nil))
	}
	return edit{
		start: attr.StartByte(),
		end:   attr.EndByte(),
		text:  `style="` + renderInlineCSS(styles, parseInlineCSS(existing)) + `"`,
	}, true
}

// parseInlineCSS splits "color: red; margin: 0" into ordered pairs.
func parseInlineCSS(s string) [][2]string {
	var out [][2]string
	for _, decl := range strings.Split(s, ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		colon := strings.IndexByte(decl, ':')
		if colon < 0 {
			continue
		}
		out = append(out, [2]string{
			strings.TrimSpace(decl[:colon]),
			strings.TrimSpace(decl[colon+1:]),
		})
	}
	return out
}

// renderInlineCSS keeps existing declaration order, overriding changed
// properties in place and appending new ones sorted.
func renderInlineCSS(styles map[string]string, existing [][2]string) string {
	remaining := make(map[string]string, len(styles))
	for k, v := range styles {
		remaining[kebabCase(k)] = v
	}

	var parts []string
	for _, pair := range existing {
		if v, hit := remaining[pair[0]]; hit {
			parts = append(parts, pair[0]+": "+v)
			delete(remaining, pair[0])
			continue
		}
		parts = append(parts, pair[0]+": "+pair[1])
	}

	keys := make([]string, 0, len(remaining))
	for k := range remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+remaining[k])
	}
	return strings.Join(parts, "; ")
}

func htmlClassEdit(el *sitter.Node, src []byte, incoming string) (edit, bool) {
	attr, existing, ok := htmlAttr(el, src, "class")
	if !ok {
		return htmlInsertAttr(el, src, "class", incoming)
	}
	return edit{
		start: attr.StartByte(),
		end:   attr.EndByte(),
		text:  `class="` + MergeClasses(existing, incoming) + `"`,
	}, true
}

func htmlInsertAttr(el *sitter.Node, src []byte, name, value string) (edit, bool) {
	start := htmlStartTag(el)
	if start == nil {
		return edit{}, false
	}
	end := start.EndByte()
	insert := end
	if end >= 2 && string(src[end-2:end]) == "/>" {
		insert = end - 2
	} else if end >= 1 && src[end-1] == '>' {
		insert = end - 1
	}
	return edit{start: insert, end: insert, text: ` ` + name + `="` + value + `"`}, true
}

// htmlTextEdit mirrors the JSX rule: leaf elements get the whole body
// replaced, elements with nested children keep them and only the first
// text run changes.
func htmlTextEdit(el *sitter.Node, src []byte, text string) (edit, bool) {
	start := htmlStartTag(el)
	if start == nil || start.Type() != "start_tag" {
		return edit{}, false
	}
	endTag := el.NamedChild(int(el.NamedChildCount()) - 1)
	if endTag == nil || endTag.Type() != "end_tag" {
		return edit{}, false
	}

	nested := false
	var firstText *sitter.Node
	count := int(el.NamedChildCount())
	for i := 0; i < count; i++ {
		child := el.NamedChild(i)
		if child == nil {
			continue
		}
		switch {
		case isHTMLElement(child):
			nested = true
		case child.Type() == "text":
			if firstText == nil {
				firstText = child
			}
		}
	}

	if !nested {
		return edit{start: start.EndByte(), end: endTag.StartByte(), text: text}, true
	}
	if firstText != nil {
		return edit{start: firstText.StartByte(), end: firstText.EndByte(), text: text}, true
	}
	return edit{start: start.EndByte(), end: start.EndByte(), text: text}, true
}
