package extract

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Framework and styling labels produced by detection.
const (
	FrameworkReact = "react"

	StylingTailwind   = "tailwind"
	StylingCSSModules = "css-modules"
	StylingStyledComp = "styled-components"
	StylingInline     = "inline"
)

// Detector guesses a file's framework signature. Implementations are
// best-effort text heuristics, not parsers; the extractor's tree walk never
// depends on the answer.
type Detector interface {
	Detect(content []byte, filePath string) Signature
}

// RegexDetector is the default detector: cheap regexes over the raw text.
type RegexDetector struct {
	reactImport  *regexp.Regexp
	jsxSyntax    *regexp.Regexp
	utilityClass *regexp.Regexp
	moduleCSS    *regexp.Regexp
	styledImport *regexp.Regexp
	inlineStyle  *regexp.Regexp
	exportedComp *regexp.Regexp
}

func NewRegexDetector() *RegexDetector {
	return &RegexDetector{
		reactImport:  regexp.MustCompile(`(?m)^\s*import\s+[^;]*from\s+['"]react['"]`),
		jsxSyntax:    regexp.MustCompile(`<[A-Za-z][\w.:-]*(\s[^>]*)?/?>`),
		utilityClass: regexp.MustCompile(`class(Name)?\s*=\s*["'][^"']*\b(flex|grid|hidden|text-\w+|bg-\w+|[pm][trblxy]?-\d+|w-\w+|h-\w+|rounded\b|rounded-\w+|shadow\b|shadow-\w+)\b`),
		moduleCSS:    regexp.MustCompile(`import\s+\w+\s+from\s+['"][^'"]+\.module\.(css|scss|sass)['"]`),
		styledImport: regexp.MustCompile(`import\s+[^;]*from\s+['"]styled-components['"]`),
		inlineStyle:  regexp.MustCompile(`style\s*=\s*\{`),
		exportedComp: regexp.MustCompile(`(?m)^\s*export\s+(default\s+)?(async\s+)?(function\s+[A-Z]\w*|const\s+[A-Z]\w*)`),
	}
}

// Detect runs the heuristics in precedence order: specific styling systems
// win over the generic inline-style fallback.
func (d *RegexDetector) Detect(content []byte, filePath string) Signature {
	text := string(content)
	var sig Signature

	if d.reactImport.MatchString(text) || d.jsxSyntax.MatchString(text) {
		sig.Framework = FrameworkReact
	}

	switch {
	case d.utilityClass.MatchString(text):
		sig.Styling = StylingTailwind
	case d.moduleCSS.MatchString(text):
		sig.Styling = StylingCSSModules
	case d.styledImport.MatchString(text):
		sig.Styling = StylingStyledComp
	case d.inlineStyle.MatchString(text):
		sig.Styling = StylingInline
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	sig.IsComponent = (ext == ".tsx" || ext == ".jsx") && d.exportedComp.MatchString(text)

	return sig
}
