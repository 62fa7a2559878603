// Package llmjson decodes the loosely formatted JSON that LLMs return.
//
// Models wrap payloads in markdown fences, prepend prose, or trail
// explanations after the closing brace. Decode applies one lenient
// recovery path: strip fences, extract the first balanced object or
// array, then unmarshal strictly into the target schema. Anything beyond
// that is a schema error for the caller to downgrade to a warning.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON indicates the text contains no balanced JSON value at all.
var ErrNoJSON = errors.New("llmjson: no JSON value found")

// Decode extracts the first JSON object or array from raw LLM output and
// unmarshals it into v.
func Decode(raw string, v any) error {
	payload, err := Extract(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("llmjson: unmarshal: %w", err)
	}
	return nil
}

// Extract returns the first balanced JSON object or array in raw,
// after removing markdown code fences.
func Extract(raw string) (string, error) {
	s := stripFences(raw)

	start := -1
	for i, r := range s {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", ErrNoJSON
	}

	end, ok := balancedEnd(s[start:])
	if !ok {
		return "", ErrNoJSON
	}
	return s[start : start+end], nil
}

// stripFences removes ``` and ```json markers, keeping their contents.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// balancedEnd scans from the first byte (which must be '{' or '[') and
// returns the index one past the matching close bracket. String literals
// and escapes are honoured.
func balancedEnd(s string) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
