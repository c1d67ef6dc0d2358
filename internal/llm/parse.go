package llm

import (
	"encoding/json"
	"strings"

	pipeerr "shipline/internal/errors"
)

// ExtractJSON pulls the JSON payload out of a model response. Models
// frequently wrap JSON in markdown fences or surround it with prose;
// everything outside the outermost object or array is discarded.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	objStart := strings.IndexAny(s, "{[")
	if objStart < 0 {
		return s
	}
	var closer string
	if s[objStart] == '{' {
		closer = "}"
	} else {
		closer = "]"
	}
	objEnd := strings.LastIndex(s, closer)
	if objEnd <= objStart {
		return s
	}
	return strings.TrimSpace(s[objStart : objEnd+1])
}

// Decode parses a model response into v, failing with E_SCHEMA_PARSE
// on malformed output rather than best-effort field extraction.
func Decode(response string, v any) error {
	payload := ExtractJSON(response)
	dec := json.NewDecoder(strings.NewReader(payload))
	if err := dec.Decode(v); err != nil {
		return pipeerr.Wrap(pipeerr.ESchemaParse, "model output is not valid JSON for the expected schema", err)
	}
	return nil
}
