package mutate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
)

// jsxRewriter implements the tree-based sub-strategy for .tsx/.jsx files.
type jsxRewriter struct {
	policy MatchPolicy
}

func (r *jsxRewriter) apply(content []byte, chain Chain, ch Changes) ([]byte, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(tsx.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil || tree.RootNode() == nil {
		return nil, fmt.Errorf("unparseable input: %w", err)
	}

	target := findTarget(tree.RootNode(), content, chain.Target(), r.policy)
	if target == nil {
		return nil, ErrNoMatch
	}

	edits := elementEdits(target, content, ch)
	if len(edits) == 0 {
		return nil, ErrNoChanges
	}
	return applyEdits(content, edits), nil
}

// --- selector matching ---------------------------------------------------

func isElementNode(n *sitter.Node) bool {
	t := n.Type()
	return t == "jsx_element" || t == "jsx_self_closing_element"
}

// openingOf returns the node carrying the tag name and attributes.
func openingOf(n *sitter.Node) *sitter.Node {
	if n.Type() == "jsx_self_closing_element" {
		return n
	}
	open := n.NamedChild(0)
	if open != nil && open.Type() == "jsx_opening_element" {
		return open
	}
	return nil
}

func elementTag(n *sitter.Node, src []byte) string {
	open := openingOf(n)
	if open == nil {
		return ""
	}
	if name := open.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	count := int(open.NamedChildCount())
	for i := 0; i < count; i++ {
		child := open.NamedChild(i)
		if child != nil && child.Type() != "jsx_attribute" {
			return child.Content(src)
		}
	}
	return ""
}

// childElements lists the element children of a scope in document order.
// Fragments are transparent: their children count as siblings of the
// fragment's position, matching how the DOM renders them.
func childElements(scope *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	count := int(scope.NamedChildCount())
	for i := 0; i < count; i++ {
		child := scope.NamedChild(i)
		if child == nil {
			continue
		}
		switch {
		case isElementNode(child):
			out = append(out, child)
		case child.Type() == "jsx_fragment":
			out = append(out, childElements(child)...)
		}
	}
	return out
}

// topLevelElements finds JSX elements with no enclosing JSX parent, meaning
// each component's root element, gathered across the file in document order.
func topLevelElements(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		if isElementNode(child) {
			out = append(out, child)
			continue
		}
		out = append(out, topLevelElements(child)...)
	}
	return out
}

// findTarget walks the tree and returns the single node the segment
// addresses, or nil. Occurrence counting happens per parent scope and per
// tag, before class filtering: nth-of-type counts same-tag siblings exactly
// the way the live DOM does, so class mismatches must not shift indices.
func findTarget(root *sitter.Node, src []byte, seg Segment, policy MatchPolicy) *sitter.Node {
	return matchScope(topLevelElements(root), src, seg, policy)
}

func matchScope(elems []*sitter.Node, src []byte, seg Segment, policy MatchPolicy) *sitter.Node {
	counts := make(map[string]int)
	for _, el := range elems {
		tag := strings.ToLower(elementTag(el, src))
		counts[tag]++

		tagOK := seg.Tag == "" || strings.EqualFold(tag, strings.ToLower(seg.Tag))
		if tagOK && counts[tag] == seg.NthOfType {
			if segmentMatches(el, src, seg, policy) {
				return el
			}
			// The nth occurrence failed id/class checks; later siblings
			// have different indices and cannot satisfy this segment.
		}

		if found := matchScope(childElements(el), src, seg, policy); found != nil {
			return found
		}
	}
	return nil
}

// attrLiteral fetches an attribute's literal string value.
// ok=false means the attribute is absent; dynamic=true means it exists but
// its value is computed and cannot be inspected textually.
func attrLiteral(open *sitter.Node, src []byte, name string) (value string, ok, dynamic bool) {
	attr := findAttribute(open, src, name)
	if attr == nil {
		return "", false, false
	}
	if attr.NamedChildCount() < 2 {
		return "true", true, false
	}
	val := attr.NamedChild(int(attr.NamedChildCount()) - 1)
	switch val.Type() {
	case "string":
		return trimQuotes(val.Content(src)), true, false
	case "jsx_expression":
		if inner := val.NamedChild(0); inner != nil && inner.Type() == "string" {
			return trimQuotes(inner.Content(src)), true, false
		}
		return "", true, true
	default:
		return "", true, true
	}
}

func findAttribute(open *sitter.Node, src []byte, name string) *sitter.Node {
	count := int(open.NamedChildCount())
	for i := 0; i < count; i++ {
		attr := open.NamedChild(i)
		if attr == nil || attr.Type() != "jsx_attribute" {
			continue
		}
		nameNode := attr.NamedChild(0)
		if nameNode != nil && nameNode.Content(src) == name {
			return attr
		}
	}
	return nil
}

// segmentMatches evaluates id and class constraints on a candidate that has
// already satisfied tag and occurrence index.
func segmentMatches(el *sitter.Node, src []byte, seg Segment, policy MatchPolicy) bool {
	open := openingOf(el)
	if open == nil {
		return false
	}

	if seg.ID != "" {
		id, ok, dynamic := attrLiteral(open, src, "id")
		if dynamic {
			return true // cannot refute a computed id
		}
		if !ok || id != seg.ID {
			return false
		}
	}

	if len(seg.Classes) == 0 {
		return true
	}

	className, ok, dynamic := attrLiteral(open, src, "className")
	if !ok || dynamic {
		// No literal class list to inspect: string inspection cannot
		// refute the match, so the tag and index carry it.
		return true
	}
	return classesMatch(seg.Classes, strings.Fields(className), policy)
}

// classesMatch applies the ratio heuristics: forward containment of target
// classes in the source list, with a reverse containment fallback for
// wrapper components whose rendered classes are injected at runtime.
func classesMatch(target, source []string, policy MatchPolicy) bool {
	if len(source) == 0 {
		return true
	}

	sourceSet := make(map[string]bool, len(source))
	for _, c := range source {
		sourceSet[c] = true
	}
	forward := 0
	for _, c := range target {
		if sourceSet[c] {
			forward++
		}
	}
	if forward == len(target) {
		return true
	}
	if forward >= policy.MinForwardMatches &&
		float64(forward)/float64(len(target)) >= policy.ForwardRatio {
		return true
	}

	targetSet := make(map[string]bool, len(target))
	for _, c := range target {
		targetSet[c] = true
	}
	reverse := 0
	for _, c := range source {
		if targetSet[c] {
			reverse++
		}
	}
	return reverse > 0 && float64(reverse)/float64(len(source)) >= policy.ReverseRatio
}

// --- edit construction ---------------------------------------------------

type edit struct {
	start, end uint32
	text       string
}

// applyEdits splices edits into src. Edits are applied back-to-front so
// earlier offsets stay valid.
func applyEdits(src []byte, edits []edit) []byte {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })

	out := make([]byte, len(src))
	copy(out, src)
	for _, e := range edits {
		if int(e.start) > len(out) || int(e.end) > len(out) || e.start > e.end {
			continue
		}
		next := make([]byte, 0, len(out)-int(e.end-e.start)+len(e.text))
		next = append(next, out[:e.start]...)
		next = append(next, e.text...)
		next = append(next, out[e.end:]...)
		out = next
	}
	return out
}

// elementEdits builds the byte edits for one matched element. Only this
// node is ever mutated.
func elementEdits(el *sitter.Node, src []byte, ch Changes) []edit {
	var edits []edit
	open := openingOf(el)
	if open == nil {
		return nil
	}

	if len(ch.Styles) > 0 {
		if e, ok := styleEdit(open, src, ch.Styles); ok {
			edits = append(edits, e)
		}
	}
	if ch.ClassName != nil {
		if e, ok := classEdit(open, src, *ch.ClassName); ok {
			edits = append(edits, e)
		}
	}
	if ch.Text != nil && el.Type() == "jsx_element" {
		if e, ok := textEdit(el, src, *ch.Text); ok {
			edits = append(edits, e)
		}
	}
	return edits
}

// styleEdit merges a style map into the element's inline style object.
// Changed keys replace same-named existing keys in place; other existing
// keys survive untouched; new keys are appended in sorted order.
func styleEdit(open *sitter.Node, src []byte, styles map[string]string) (edit, bool) {
	attr := findAttribute(open, src, "style")
	if attr == nil {
		return insertAttributeEdit(open, src, "style", renderStyleObject(styles))
	}

	obj := styleObjectNode(attr, src)
	if obj == nil {
		return edit{}, false // computed style expression; cannot merge textually
	}

	var edits []edit
	remaining := make(map[string]string, len(styles))
	for k, v := range styles {
		remaining[k] = v
	}

	count := int(obj.NamedChildCount())
	for i := 0; i < count; i++ {
		pair := obj.NamedChild(i)
		if pair == nil || pair.Type() != "pair" {
			continue
		}
		keyNode := pair.ChildByFieldName("key")
		valNode := pair.ChildByFieldName("value")
		if keyNode == nil || valNode == nil {
			continue
		}
		key := keyNode.Content(src)
		if keyNode.Type() == "string" {
			key = trimQuotes(key)
		}
		if newVal, hit := remaining[key]; hit {
			edits = append(edits, edit{
				start: valNode.StartByte(),
				end:   valNode.EndByte(),
				text:  renderStyleValue(newVal),
			})
			delete(remaining, key)
		}
	}

	if len(remaining) > 0 {
		// Append new pairs just before the closing brace.
		keys := make([]string, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(", ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(renderStyleValue(remaining[k]))
		}
		edits = append(edits, edit{start: obj.EndByte() - 1, end: obj.EndByte() - 1, text: b.String()})
	}

	if len(edits) == 0 {
		return edit{}, false
	}
	// Collapse into a single edit over the object range for the caller.
	objStart, objEnd := obj.StartByte(), obj.EndByte()
	merged := applyEdits(src[objStart:objEnd], offsetEdits(edits, objStart))
	return edit{start: objStart, end: objEnd, text: string(merged)}, true
}

func offsetEdits(edits []edit, base uint32) []edit {
	out := make([]edit, len(edits))
	for i, e := range edits {
		out[i] = edit{start: e.start - base, end: e.end - base, text: e.text}
	}
	return out
}

// styleObjectNode unwraps style={{...}} to the object literal, or nil.
func styleObjectNode(attr *sitter.Node, src []byte) *sitter.Node {
	if attr.NamedChildCount() < 2 {
		return nil
	}
	val := attr.NamedChild(int(attr.NamedChildCount()) - 1)
	if val.Type() != "jsx_expression" {
		return nil
	}
	inner := val.NamedChild(0)
	if inner == nil || inner.Type() != "object" {
		return nil
	}
	return inner
}

func renderStyleObject(styles map[string]string) string {
	keys := make([]string, 0, len(styles))
	for k := range styles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{{ ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(renderStyleValue(styles[k]))
	}
	b.WriteString(" }}")
	return b.String()
}

// renderStyleValue quotes string values and leaves bare numbers bare.
func renderStyleValue(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return "'" + strings.ReplaceAll(v, "'", "\\'") + "'"
}

// classEdit replaces or merges the className attribute. Dynamic class
// expressions are left alone: rewriting them textually would be a guess.
func classEdit(open *sitter.Node, src []byte, incoming string) (edit, bool) {
	attr := findAttribute(open, src, "className")
	if attr == nil {
		return insertAttributeEdit(open, src, "className", `"`+incoming+`"`)
	}

	existing, _, dynamic := attrLiteral(open, src, "className")
	if dynamic {
		return edit{}, false
	}

	merged := MergeClasses(existing, incoming)
	val := attr.NamedChild(int(attr.NamedChildCount()) - 1)
	quote := byte('"')
	if raw := val.Content(src); len(raw) > 0 && raw[0] == '\'' {
		quote = '\''
	}
	return edit{
		start: val.StartByte(),
		end:   val.EndByte(),
		text:  string(quote) + merged + string(quote),
	}, true
}

// insertAttributeEdit adds a brand-new attribute before the opening tag's
// closing bracket.
func insertAttributeEdit(open *sitter.Node, src []byte, name, rendered string) (edit, bool) {
	end := open.EndByte()
	insert := end
	if end >= 2 && string(src[end-2:end]) == "/>" {
		insert = end - 2
		// keep the conventional space before the self-closing slash
		if insert > 0 && src[insert-1] == ' ' {
			insert--
		}
	} else if end >= 1 && src[end-1] == '>' {
		insert = end - 1
	}
	return edit{start: insert, end: insert, text: " " + name + "=" + rendered}, true
}

// textEdit replaces direct text. With no nested elements the whole inner
// range is replaced; with nested children only the first direct text run
// changes and every descendant element stays byte-identical.
func textEdit(el *sitter.Node, src []byte, text string) (edit, bool) {
	open := el.NamedChild(0)
	if open == nil || open.Type() != "jsx_opening_element" {
		return edit{}, false
	}
	closing := el.NamedChild(int(el.NamedChildCount()) - 1)
	if closing == nil || closing.Type() != "jsx_closing_element" {
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
		switch child.Type() {
		case "jsx_element", "jsx_self_closing_element", "jsx_fragment":
			nested = true
		case "jsx_text":
			if firstText == nil {
				firstText = child
			}
		}
	}

	if !nested {
		return edit{start: open.EndByte(), end: closing.StartByte(), text: text}, true
	}
	if firstText != nil {
		return edit{start: firstText.StartByte(), end: firstText.EndByte(), text: text}, true
	}
	// No direct text run exists; insert one right after the opening tag.
	return edit{start: open.EndByte(), end: open.EndByte(), text: text}, true
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
