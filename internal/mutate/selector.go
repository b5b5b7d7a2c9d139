package mutate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Segment is one parsed step of a descendant selector:
// tag[.class]*[#id]?[:nth-of-type(n)]. Only the final segment of a chain is
// authoritative for source matching; ancestors exist for the live-DOM side.
type Segment struct {
	Tag       string
	ID        string
	Classes   []string
	NthOfType int // 1-based, defaults to 1
}

// Chain is a full selector: segments joined by '>'.
type Chain struct {
	Segments []Segment
}

// Target returns the final, authoritative segment.
func (c Chain) Target() Segment {
	return c.Segments[len(c.Segments)-1]
}

var nthOfTypeRe = regexp.MustCompile(`:nth-of-type\((\d+)\)`)

// ParseSelector parses the restricted descendant-combinator grammar.
func ParseSelector(selector string) (Chain, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return Chain{}, fmt.Errorf("empty selector")
	}

	parts := strings.Split(selector, ">")
	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(strings.TrimSpace(part))
		if err != nil {
			return Chain{}, err
		}
		segments = append(segments, seg)
	}
	return Chain{Segments: segments}, nil
}

func parseSegment(s string) (Segment, error) {
	if s == "" {
		return Segment{}, fmt.Errorf("empty selector segment")
	}

	seg := Segment{NthOfType: 1}

	if m := nthOfTypeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return Segment{}, fmt.Errorf("bad nth-of-type index in %q", s)
		}
		seg.NthOfType = n
		s = nthOfTypeRe.ReplaceAllString(s, "")
	}

	// Split on '.' and '#' markers, but never inside brackets: Tailwind
	// arbitrary values like bg-[#fff] or w-[1.5rem] contain both.
	var tokens []string
	var cur strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '[':
			depth++
			cur.WriteRune(r)
		case ']':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case '.', '#':
			if depth == 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	tokens = append(tokens, cur.String())

	for i, tok := range tokens {
		if i == 0 {
			seg.Tag = tok
			continue
		}
		switch {
		case strings.HasPrefix(tok, "."):
			if cls := tok[1:]; cls != "" {
				seg.Classes = append(seg.Classes, cls)
			}
		case strings.HasPrefix(tok, "#"):
			seg.ID = tok[1:]
		}
	}

	if seg.Tag == "" && seg.ID == "" && len(seg.Classes) == 0 {
		return Segment{}, fmt.Errorf("selector segment %q has no tag, id, or class", s)
	}
	return seg, nil
}
