// Package jsonscan finds JSON objects embedded in free text, such as a model
// reply that wraps its JSON in prose or markdown fences.
package jsonscan

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned by Decode when text contains no balanced {...} group.
var ErrNoObject = errors.New("jsonscan: no JSON object found")

// FirstObject returns the first balanced {...} substring of text. Braces
// inside JSON string literals (including escaped quotes) do not count toward
// nesting. If a candidate starting at some '{' never closes, scanning resumes
// at the next '{' after it, so a stray brace in leading prose does not hide a
// well-formed object later on.
func FirstObject(text string) (string, bool) {
	start, end, ok := locate(text)
	if !ok {
		return "", false
	}
	return text[start : end+1], true
}

func locate(text string) (start, end int, ok bool) {
	for start = strings.IndexByte(text, '{'); start >= 0; {
		if end, ok = matchObject(text, start); ok {
			return start, end, true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return 0, 0, false
}

// matchObject returns the index of the '}' closing the object opened at
// text[start].
func matchObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Decode locates the first object in text and decodes it into a generic map.
// Numbers are kept as json.Number so callers can tell 95 from "95" and avoid
// float rounding on integers.
//
// Candidates that are balanced but not valid JSON (e.g. "{see note}" in
// prose) are skipped in favour of the next balanced group.
func Decode(text string) (map[string]any, error) {
	var lastErr error
	rest := text
	for {
		start, end, ok := locate(rest)
		if !ok {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ErrNoObject
		}

		dec := json.NewDecoder(strings.NewReader(rest[start : end+1]))
		dec.UseNumber()
		var out map[string]any
		err := dec.Decode(&out)
		if err == nil {
			return out, nil
		}
		lastErr = err

		// Retry past the opening brace of the failed candidate.
		rest = rest[start+1:]
	}
}
