// Package extract parses JSX/TSX source files into flat inventories of
// addressable UI elements. Parsing is tolerant: syntax errors are collected
// per file and the walk continues, so one malformed file never aborts a
// directory scan.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Extractor turns file contents into ElementInfo snapshots. It holds no
// per-file state; the caller decides whether to register results.
type Extractor struct {
	detector Detector
}

// New returns an Extractor using the given framework detector, or the
// default regex detector when nil.
func New(detector Detector) *Extractor {
	if detector == nil {
		detector = NewRegexDetector()
	}
	return &Extractor{detector: detector}
}

// LanguageForPath maps a file extension to its tree-sitter grammar.
// Returns nil for files the extractor does not handle.
func LanguageForPath(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsx", ".jsx":
		return tsx.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	case ".js", ".mjs", ".cjs":
		return javascript.GetLanguage()
	default:
		return nil
	}
}

// Extract parses content and returns every UI element found, plus any
// syntax errors survived along the way.
func (x *Extractor) Extract(content []byte, filePath string) (*Result, error) {
	lang := LanguageForPath(filePath)
	if lang == nil {
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse %s: no tree produced", filePath)
	}

	w := &walker{
		src:      content,
		filePath: filePath,
		sig:      x.detector.Detect(content, filePath),
		result:   &Result{},
	}
	w.walk(root, "")
	return w.result, nil
}

type walker struct {
	src      []byte
	filePath string
	sig      Signature
	scopes   []string // enclosing component stack
	result   *Result
}

func (w *walker) walk(n *sitter.Node, path string) {
	if n.IsError() || n.IsMissing() {
		w.result.Errors = append(w.result.Errors, ParseError{
			Line:    n.StartPoint().Row,
			Column:  n.StartPoint().Column,
			Message: "syntax error",
		})
	}

	scope := componentName(n, w.src)
	if scope != "" {
		w.scopes = append(w.scopes, scope)
		defer func() { w.scopes = w.scopes[:len(w.scopes)-1] }()
	}

	switch n.Type() {
	case "jsx_element", "jsx_self_closing_element":
		w.emit(n, path)
	}

	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		w.walk(child, childPath(path, child.Type(), i))
	}
}

func childPath(parent, kind string, index int) string {
	seg := fmt.Sprintf("%s[%d]", kind, index)
	if parent == "" {
		return seg
	}
	return parent + "/" + seg
}

// componentName returns the scope name a node introduces, or "".
func componentName(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
	case "variable_declarator":
		value := n.ChildByFieldName("value")
		if value == nil {
			return ""
		}
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
			if name := n.ChildByFieldName("name"); name != nil {
				return name.Content(src)
			}
		}
	}
	return ""
}

func (w *walker) emit(n *sitter.Node, path string) {
	opening := n
	if n.Type() == "jsx_element" {
		opening = n.NamedChild(0) // jsx_opening_element
		if opening == nil || opening.Type() != "jsx_opening_element" {
			return
		}
	}

	tag := tagName(opening, w.src)
	if tag == "" {
		return
	}

	attrs, styles := w.attributes(opening)
	direct, full, nested := w.textContent(n)

	component := ""
	if len(w.scopes) > 0 {
		component = w.scopes[len(w.scopes)-1]
	}

	info := &ElementInfo{
		ID: ElementID{
			FilePath:  w.filePath,
			Component: component,
			TreePath:  path,
			Hash:      fingerprint(tag, attrs, direct),
			Version:   1,
		},
		TagName:           tag,
		NthOfType:         nthOfType(n, w.src, tag),
		Attributes:        attrs,
		Styles:            styles,
		DirectText:        direct,
		FullText:          full,
		HasNestedElements: nested,
		Signature:         w.sig,
	}
	w.result.Elements = append(w.result.Elements, info)
}

// nthOfType counts same-tag element siblings up to and including n. The
// result is 1-based, matching what the DOM reports for :nth-of-type.
func nthOfType(n *sitter.Node, src []byte, tag string) int {
	parent := n.Parent()
	if parent == nil {
		return 1
	}
	nth := 0
	count := int(parent.NamedChildCount())
	for i := 0; i < count; i++ {
		sib := parent.NamedChild(i)
		if sib == nil {
			continue
		}
		opening := sib
		switch sib.Type() {
		case "jsx_self_closing_element":
		case "jsx_element":
			opening = sib.NamedChild(0)
			if opening == nil {
				continue
			}
		default:
			continue
		}
		if strings.EqualFold(tagName(opening, src), tag) {
			nth++
		}
		if sib.StartByte() == n.StartByte() {
			break
		}
	}
	if nth == 0 {
		return 1
	}
	return nth
}

// tagName resolves the rendered tag. Member names (Namespace.Tag) and
// namespaced names (ns:name) flatten to their source text.
func tagName(opening *sitter.Node, src []byte) string {
	if name := opening.ChildByFieldName("name"); name != nil {
		return name.Content(src)
	}
	// Grammar vintages differ on the name field; fall back to the first
	// named child that is not an attribute.
	count := int(opening.NamedChildCount())
	for i := 0; i < count; i++ {
		child := opening.NamedChild(i)
		if child != nil && child.Type() != "jsx_attribute" {
			return child.Content(src)
		}
	}
	return ""
}

// attributes extracts the attribute map and, when a literal style object is
// present, the parsed inline style map.
func (w *walker) attributes(opening *sitter.Node) (map[string]string, map[string]string) {
	attrs := make(map[string]string)
	var styles map[string]string

	count := int(opening.NamedChildCount())
	for i := 0; i < count; i++ {
		attr := opening.NamedChild(i)
		if attr == nil || attr.Type() != "jsx_attribute" {
			continue
		}

		nameNode := attr.NamedChild(0)
		if nameNode == nil {
			continue
		}
		name := nameNode.Content(w.src)

		if attr.NamedChildCount() < 2 {
			attrs[name] = "true" // bare attribute means present
			continue
		}

		value := attr.NamedChild(int(attr.NamedChildCount()) - 1)
		literal, styleMap := w.attributeValue(name, value)
		attrs[name] = literal
		if styleMap != nil {
			styles = styleMap
		}
	}
	return attrs, styles
}

// attributeValue renders one attribute value. Literals come through as-is;
// a literal style object becomes a key->value map; everything else stays an
// opaque placeholder so no information is silently dropped.
func (w *walker) attributeValue(name string, value *sitter.Node) (string, map[string]string) {
	switch value.Type() {
	case "string":
		return stripQuotes(value.Content(w.src)), nil
	case "jsx_expression":
		inner := value.NamedChild(0)
		if inner == nil {
			return value.Content(w.src), nil
		}
		switch inner.Type() {
		case "string":
			return stripQuotes(inner.Content(w.src)), nil
		case "template_string":
			if !hasNamedChildOfType(inner, "template_substitution") {
				return strings.Trim(inner.Content(w.src), "`"), nil
			}
		case "number", "true", "false":
			return inner.Content(w.src), nil
		case "object":
			if name == "style" {
				if m := w.styleObject(inner); m != nil {
					return value.Content(w.src), m
				}
			}
		}
		return value.Content(w.src), nil
	default:
		return value.Content(w.src), nil
	}
}

// styleObject parses a {key: literal} object into a style map. Pairs with
// non-literal values keep their raw expression text.
func (w *walker) styleObject(obj *sitter.Node) map[string]string {
	m := make(map[string]string)
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
		key := keyNode.Content(w.src)
		if keyNode.Type() == "string" {
			key = stripQuotes(key)
		}
		switch valNode.Type() {
		case "string":
			m[key] = stripQuotes(valNode.Content(w.src))
		case "number":
			m[key] = valNode.Content(w.src)
		default:
			m[key] = valNode.Content(w.src)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// textContent gathers direct text (immediate children only), full text
// (all descendants), and whether nested elements are present.
func (w *walker) textContent(n *sitter.Node) (direct, full string, nested bool) {
	if n.Type() != "jsx_element" {
		return "", "", false
	}

	var directParts []string
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "jsx_text":
			if s := strings.TrimSpace(child.Content(w.src)); s != "" {
				directParts = append(directParts, s)
			}
		case "jsx_expression":
			if s := literalExpressionText(child, w.src); s != "" {
				directParts = append(directParts, s)
			}
		case "jsx_element", "jsx_self_closing_element", "jsx_fragment":
			nested = true
		}
	}

	var fullParts []string
	collectText(n, w.src, &fullParts)
	return strings.Join(directParts, " "), strings.Join(fullParts, " "), nested
}

// literalExpressionText unwraps {"string"} style expression children.
func literalExpressionText(expr *sitter.Node, src []byte) string {
	inner := expr.NamedChild(0)
	if inner == nil {
		return ""
	}
	switch inner.Type() {
	case "string":
		return stripQuotes(inner.Content(src))
	case "template_string":
		if !hasNamedChildOfType(inner, "template_substitution") {
			return strings.Trim(inner.Content(src), "`")
		}
	}
	return ""
}

func collectText(n *sitter.Node, src []byte, parts *[]string) {
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		switch child.Type() {
		case "jsx_text":
			if s := strings.TrimSpace(child.Content(src)); s != "" {
				*parts = append(*parts, s)
			}
		case "jsx_expression":
			if s := literalExpressionText(child, src); s != "" {
				*parts = append(*parts, s)
			}
		default:
			collectText(child, src, parts)
		}
	}
}

func hasNamedChildOfType(n *sitter.Node, kind string) bool {
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		if child := n.NamedChild(i); child != nil && child.Type() == kind {
			return true
		}
	}
	return false
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
