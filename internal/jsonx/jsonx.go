// Package jsonx extracts and strictly decodes the JSON payloads the
// reasoning provider is expected to embed in its free-form replies.
// Decoding returns a typed ParseError on malformed input; the fail-safe
// default (e.g. "treat as leaf") is applied explicitly at each call
// site, never swallowed here.
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseError reports that no decodable JSON payload was found in a
// provider reply.
type ParseError struct {
	Reason string
	Text   string // offending input, truncated for logs
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("payload parse error: %s", e.Reason)
}

const errTextLimit = 200

func newParseError(reason, text string) *ParseError {
	if len(text) > errTextLimit {
		text = text[:errTextLimit] + "..."
	}
	return &ParseError{Reason: reason, Text: text}
}

// Extract locates the JSON object inside a provider reply. A fenced
// ```json block wins; otherwise the first balanced top-level object
// that gjson considers valid is used.
func Extract(text string) (string, bool) {
	if block, ok := fencedBlock(text); ok && gjson.Valid(block) {
		return block, true
	}
	for off := 0; off < len(text); {
		idx := strings.IndexByte(text[off:], '{')
		if idx < 0 {
			break
		}
		start := off + idx
		obj, end, ok := balancedObject(text, start)
		if ok && gjson.Valid(obj) {
			return obj, true
		}
		if ok {
			off = end
		} else {
			off = start + 1
		}
	}
	return "", false
}

// Decode extracts the JSON payload from text and unmarshals it into
// out. It returns a *ParseError when no payload is found or the shape
// does not decode.
func Decode(text string, out any) error {
	payload, ok := Extract(text)
	if !ok {
		return newParseError("no JSON object found", text)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return newParseError(err.Error(), payload)
	}
	return nil
}

// fencedBlock returns the contents of the first ```json (or bare ```)
// fenced block.
func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if after, ok := strings.CutPrefix(rest, "json"); ok {
		rest = after
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// balancedObject scans for a balanced '{...}' region starting at
// start, tracking strings and escapes so braces inside values do not
// confuse it. end is the index just past the closing brace.
func balancedObject(text string, start int) (obj string, end int, ok bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}
