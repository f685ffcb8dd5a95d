// Package jsonlenient implements the tolerant JSON extractor every agent
// reply is parsed through: model replies are free text that may wrap a
// JSON object or array in prose or fenced code blocks, and the extractor
// must recover the intended value without the caller having to care how
// it was embedded.
//
// The algorithm (spec'd precisely, since no library in the wild implements
// this particular four-stage recovery):
//
//  1. Parse the entire trimmed output directly.
//  2. For each fenced ``` block, try to parse its body; failing that, try
//     brace-matched extraction of the outermost {…} or […] inside it.
//  3. Scan the full output character by character tracking brace/bracket
//     depth, emitting each maximally-nested balanced span, and try each.
//  4. If braces are unbalanced at end of input, try closing with the
//     missing '}' characters and parse the completion.
//
// The first successfully parsed value matching the caller's expected shape
// wins.
package jsonlenient

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Shape constrains which JSON top-level kind a caller will accept.
type Shape int

const (
	// ShapeAny accepts either an object or an array.
	ShapeAny Shape = iota
	// ShapeObject requires a top-level JSON object.
	ShapeObject
	// ShapeArray requires a top-level JSON array.
	ShapeArray
)

// ErrNoMatch is returned when no candidate span in the input parses to a
// value of the expected shape.
var ErrNoMatch = errors.New("jsonlenient: no value of the expected shape found")

// ParseError wraps ErrNoMatch (or a deeper cause) with the raw text that
// was examined, so callers can attach it to a typed protocol error as
// spec.md §7 requires ("callers surface a typed error with the raw text
// attached").
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parse extracts the first value of the expected shape from raw and
// unmarshals it into out (a pointer, as for json.Unmarshal).
func Parse(raw string, shape Shape, out any) error {
	candidates := candidateSpans(raw)
	for _, c := range candidates {
		if !matchesShape(c, shape) {
			continue
		}
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		}
	}
	return &ParseError{Raw: raw, Err: ErrNoMatch}
}

// matchesShape reports whether the trimmed candidate text is valid JSON of
// the requested top-level kind. gjson.Valid/Get is used as a cheap
// pre-check before the full json.Unmarshal attempt in Parse.
func matchesShape(candidate string, shape Shape) bool {
	c := strings.TrimSpace(candidate)
	if c == "" || !gjson.Valid(c) {
		return false
	}
	switch shape {
	case ShapeObject:
		return strings.HasPrefix(c, "{")
	case ShapeArray:
		return strings.HasPrefix(c, "[")
	default:
		return strings.HasPrefix(c, "{") || strings.HasPrefix(c, "[")
	}
}

// candidateSpans returns, in priority order, every span of raw worth
// attempting to parse as JSON: the whole trimmed input, then fenced code
// block contents (and brace-matched extractions within them), then every
// balanced brace/bracket span found by a character scan, then a
// best-effort closing-brace repair of the whole input.
func candidateSpans(raw string) []string {
	var spans []string

	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		spans = append(spans, trimmed)
	}

	for _, block := range fencedBlocks(raw) {
		body := strings.TrimSpace(block)
		if body == "" {
			continue
		}
		spans = append(spans, body)
		if extracted := extractOutermostBalanced(body); extracted != "" {
			spans = append(spans, extracted)
		}
	}

	spans = append(spans, balancedSpans(raw)...)

	if repaired := repairUnbalanced(raw); repaired != "" {
		spans = append(spans, repaired)
	}

	return spans
}

// fencedBlocks returns the body text of every ``` ... ``` block in raw,
// in order of appearance. A leading language tag on the opening fence
// (e.g. "```json") is stripped.
func fencedBlocks(raw string) []string {
	const fence = "```"
	var blocks []string

	rest := raw
	for {
		start := strings.Index(rest, fence)
		if start == -1 {
			break
		}
		afterOpen := rest[start+len(fence):]
		// Strip an optional language tag up to the first newline.
		if nl := strings.IndexByte(afterOpen, '\n'); nl != -1 {
			tag := strings.TrimSpace(afterOpen[:nl])
			if tag != "" && !strings.ContainsAny(tag, "{}[]") {
				afterOpen = afterOpen[nl+1:]
			}
		}
		end := strings.Index(afterOpen, fence)
		if end == -1 {
			break
		}
		blocks = append(blocks, afterOpen[:end])
		rest = afterOpen[end+len(fence):]
	}
	return blocks
}

// extractOutermostBalanced returns the longest balanced {...} or [...]
// span found in s (the first entry of balancedSpans), or "" if there is
// none.
func extractOutermostBalanced(s string) string {
	spans := balancedSpans(s)
	if len(spans) == 0 {
		return ""
	}
	return spans[0]
}

// balancedSpans scans s character by character tracking brace/bracket
// depth (braces and brackets tracked independently is unnecessary for
// well-formed JSON, so a single nesting stack of the opening characters
// is kept) and returns every span that opens and fully closes at depth 0,
// ordered by descending length so the "maximally nested" (outermost, in
// practice the longest) span is tried first.
func balancedSpans(s string) []string {
	type openMark struct {
		idx  int
		char byte
	}

	var stack []openMark
	var spans []string
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, openMark{idx: i, char: ch})
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			wantClose := byte('}')
			if top.char == '[' {
				wantClose = ']'
			}
			if ch != wantClose {
				// Mismatched bracket: drop the malformed frame rather
				// than abort the whole scan, so sibling spans still
				// get a chance.
				stack = stack[:len(stack)-1]
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				spans = append(spans, s[top.idx:i+1])
			}
		}
	}

	// Longest-first: the outermost well-formed span is the most likely
	// intended payload.
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if len(spans[j]) > len(spans[i]) {
				spans[i], spans[j] = spans[j], spans[i]
			}
		}
	}
	return spans
}

// repairUnbalanced attempts to recover a truncated JSON object by
// appending the missing closing braces implied by the deepest unclosed
// '{' nesting, ignoring braces inside strings. '[' and ']' are not
// tracked and no ']' is ever appended, so an input cut off inside an
// unclosed array is not repaired. Only object repair is attempted (spec
// §4.7 step 4 names "the missing '}'s").
func repairUnbalanced(raw string) string {
	trimmed := strings.TrimSpace(raw)
	start := strings.IndexByte(trimmed, '{')
	if start == -1 {
		return ""
	}
	body := trimmed[start:]

	inString := false
	escaped := false
	depth := 0
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}

	if depth <= 0 {
		return ""
	}
	return body + strings.Repeat("}", depth)
}
