package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseError reports that an LLM response that was required to be structured
// JSON could not be decoded, even after repair. Callers must treat it as a
// structural failure (a Failed vote, a rejected classification), never as a
// value to silently default.
type ParseError struct {
	// Raw is the original response content that failed to decode.
	Raw string

	// Err is the underlying decode error.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm: response is not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON decodes an LLM response body into v. Models frequently wrap JSON
// in markdown fences or emit slightly malformed output (trailing commas,
// single quotes), so decoding proceeds in three stages:
//
//  1. strict json.Unmarshal on the fence-stripped content,
//  2. jsonrepair on the same content, then strict unmarshal of the repaired text,
//  3. failure: a *ParseError carrying the raw content.
//
// The repaired path never invents fields, it only fixes syntax, so stage 2
// cannot turn a refusal or prose answer into a plausible-looking result.
func DecodeJSON(content string, v any) error {
	stripped := stripFences(content)
	if stripped == "" {
		return &ParseError{Raw: content, Err: fmt.Errorf("empty response")}
	}

	if err := json.Unmarshal([]byte(stripped), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(stripped)
	if err != nil {
		return &ParseError{Raw: content, Err: err}
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return &ParseError{Raw: content, Err: err}
	}
	return nil
}

// stripFences removes a surrounding markdown code fence (``` or ```json) and
// any prose before the first brace/bracket when the content clearly embeds a
// JSON document.
func stripFences(content string) string {
	s := strings.TrimSpace(content)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	// Prose-wrapped JSON: cut from the first opening brace/bracket to the
	// matching final closer. Only applied when both ends exist.
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end <= start {
		return s
	}
	return s[start : end+1]
}
