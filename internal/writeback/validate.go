// Package writeback guards the boundary between the mutation engine and the
// user's files: regenerated source is re-parsed before it may land on disk,
// and every write is atomic.
package writeback

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/html"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// ValidationError contains structured information about a syntax error.
type ValidationError struct {
	FilePath string
	Line     uint32 // 0-indexed
	Column   uint32 // 0-indexed
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line+1, e.Column+1, e.Message)
}

// Validate parses content with tree-sitter and returns an error if the tree
// contains syntax errors. This is the last line of defense before a rewrite
// is allowed to land on disk. Files with no known grammar (scss, sass) pass
// through without validation.
func Validate(content []byte, filePath string) error {
	lang := languageForPath(filePath)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filePath, err)
	}

	root := tree.RootNode()
	if root == nil {
		return fmt.Errorf("parse %s: nil root", filePath)
	}
	if !root.HasError() {
		return nil
	}

	if errNode := findFirstError(root); errNode != nil {
		return &ValidationError{
			FilePath: filePath,
			Line:     errNode.StartPoint().Row,
			Column:   errNode.StartPoint().Column,
			Message:  "syntax error",
		}
	}
	return &ValidationError{FilePath: filePath, Message: "tree contains errors"}
}

// ASTErrors returns every syntax-error location in content, for diagnostics.
// Returns nil when content is clean or the grammar is unknown.
func ASTErrors(content []byte, filePath string) []ValidationError {
	lang := languageForPath(filePath)
	if lang == nil {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil
	}

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return nil
	}

	var errs []ValidationError
	collectErrors(root, filePath, &errs)
	return errs
}

func findFirstError(node *sitter.Node) *sitter.Node {
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			if found := findFirstError(child); found != nil {
				return found
			}
		}
	}
	return nil
}

func collectErrors(node *sitter.Node, filePath string, errs *[]ValidationError) {
	if node.IsError() || node.IsMissing() {
		*errs = append(*errs, ValidationError{
			FilePath: filePath,
			Line:     node.StartPoint().Row,
			Column:   node.StartPoint().Column,
			Message:  "syntax error",
		})
		return // don't recurse into error children
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsError() || child.IsMissing() {
			collectErrors(child, filePath, errs)
		}
	}
}

// languageForPath maps the mutation engine's target types to grammars.
func languageForPath(filePath string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".tsx", ".jsx":
		return tsx.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	case ".js", ".mjs", ".cjs":
		return javascript.GetLanguage()
	case ".css":
		return css.GetLanguage()
	case ".html", ".htm":
		return html.GetLanguage()
	default:
		return nil // scss/sass have no grammar here and pass through
	}
}
