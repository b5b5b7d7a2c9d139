package mutate

import "strings"

// Utility-class reconciliation. Two classes that set the same UI property
// are mutually exclusive: when an edit brings in a new class, the old class
// of the same property group is dropped, and so is its theme-variant twin
// (changing a light-mode text color also drops the dark: counterpart of the
// same property, so no contradictory remnant survives).

// MergeClasses merges incoming utility classes into an existing class list.
// Existing classes keep their positions; replaced classes are removed;
// genuinely new classes are appended. The result is stable: merging the
// same incoming value twice produces identical output.
func MergeClasses(existing, incoming string) string {
	out := strings.Fields(existing)

	for _, inc := range strings.Fields(incoming) {
		incVariants, incBase := splitVariants(inc)
		incGroup := groupOf(incBase)

		insertAt := -1
		if incGroup != "" {
			kept := make([]string, 0, len(out))
			for _, c := range out {
				if c == inc {
					kept = append(kept, c)
					continue
				}
				variants, base := splitVariants(c)
				if groupOf(base) == incGroup && variantsEqualIgnoringDark(variants, incVariants) {
					if insertAt < 0 {
						insertAt = len(kept)
					}
					continue // replaced by the incoming class
				}
				kept = append(kept, c)
			}
			out = kept
		}

		if containsString(out, inc) {
			continue
		}
		if insertAt >= 0 && insertAt <= len(out) {
			out = append(out, "")
			copy(out[insertAt+1:], out[insertAt:])
			out[insertAt] = inc
		} else {
			out = append(out, inc)
		}
	}
	return strings.Join(out, " ")
}

// splitVariants separates variant prefixes from the base utility:
// "dark:hover:text-red-500" -> ["dark","hover"], "text-red-500".
// Colons inside brackets belong to arbitrary values, not variants.
func splitVariants(class string) ([]string, string) {
	var variants []string
	rest := class
	for {
		idx := -1
		depth := 0
		for i, r := range rest {
			if r == '[' {
				depth++
			} else if r == ']' && depth > 0 {
				depth--
			} else if r == ':' && depth == 0 {
				idx = i
				break
			}
		}
		if idx < 0 {
			return variants, rest
		}
		variants = append(variants, rest[:idx])
		rest = rest[idx+1:]
	}
}

func variantsEqualIgnoringDark(a, b []string) bool {
	return strings.Join(stripDark(a), ":") == strings.Join(stripDark(b), ":")
}

func stripDark(variants []string) []string {
	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if v != "dark" {
			out = append(out, v)
		}
	}
	return out
}

var textSizes = map[string]bool{
	"xs": true, "sm": true, "base": true, "lg": true, "xl": true,
	"2xl": true, "3xl": true, "4xl": true, "5xl": true, "6xl": true,
	"7xl": true, "8xl": true, "9xl": true,
}

var textAligns = map[string]bool{
	"left": true, "center": true, "right": true, "justify": true,
	"start": true, "end": true,
}

var fontWeights = map[string]bool{
	"thin": true, "extralight": true, "light": true, "normal": true,
	"medium": true, "semibold": true, "bold": true, "extrabold": true,
	"black": true,
}

var displayValues = map[string]bool{
	"block": true, "inline-block": true, "inline": true, "flex": true,
	"inline-flex": true, "grid": true, "inline-grid": true, "hidden": true,
	"contents": true, "table": true,
}

var borderStyles = map[string]bool{
	"solid": true, "dashed": true, "dotted": true, "double": true,
	"none": true, "hidden": true,
}

// groupOf classifies a base utility into its exclusive property group.
// Unknown utilities return "" and are never evicted, only appended.
func groupOf(base string) string {
	if displayValues[base] {
		return "display"
	}

	switch {
	case strings.HasPrefix(base, "text-"):
		rest := base[len("text-"):]
		if textSizes[rest] {
			return "font-size"
		}
		if textAligns[rest] {
			return "text-align"
		}
		return "text-color"
	case strings.HasPrefix(base, "bg-"):
		return "bg-color"
	case strings.HasPrefix(base, "font-"):
		if fontWeights[base[len("font-"):]] {
			return "font-weight"
		}
		return "font-family"
	case base == "border":
		return "border-width"
	case strings.HasPrefix(base, "border-"):
		rest := base[len("border-"):]
		if borderStyles[rest] {
			return "border-style"
		}
		if isNumericToken(rest) {
			return "border-width"
		}
		return "border-color"
	case strings.HasPrefix(base, "rounded"):
		return "radius"
	case strings.HasPrefix(base, "shadow"):
		return "shadow"
	case strings.HasPrefix(base, "opacity-"):
		return "opacity"
	case strings.HasPrefix(base, "z-"):
		return "z-index"
	case strings.HasPrefix(base, "leading-"):
		return "line-height"
	case strings.HasPrefix(base, "tracking-"):
		return "letter-spacing"
	case strings.HasPrefix(base, "justify-"):
		return "justify-content"
	case strings.HasPrefix(base, "items-"):
		return "align-items"
	case strings.HasPrefix(base, "gap-x-"):
		return "gap-x"
	case strings.HasPrefix(base, "gap-y-"):
		return "gap-y"
	case strings.HasPrefix(base, "gap-"):
		return "gap"
	case strings.HasPrefix(base, "overflow-"):
		return "overflow"
	}

	// Spacing and sizing scales share a group per axis prefix.
	for _, p := range []string{
		"px", "py", "pt", "pr", "pb", "pl", "p",
		"mx", "my", "mt", "mr", "mb", "ml", "m",
		"min-w", "max-w", "min-h", "max-h", "w", "h",
	} {
		if strings.HasPrefix(base, p+"-") {
			return "scale-" + p
		}
	}

	switch base {
	case "flex-row", "flex-col", "flex-row-reverse", "flex-col-reverse":
		return "flex-direction"
	case "flex-wrap", "flex-nowrap", "flex-wrap-reverse":
		return "flex-wrap"
	case "italic", "not-italic":
		return "font-style"
	case "underline", "overline", "line-through", "no-underline":
		return "text-decoration"
	}

	return ""
}

func isNumericToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
