package generator

import (
	"regexp"
	"strings"
)

// Precompiled once; model responses frequently wrap JSON in markdown fences.
var jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// extractJSONArray pulls a JSON array out of a model response that may wrap
// it in markdown fences or prose. When the array is truncated mid-object
// (max-token cutoffs), it drops the partial element and closes the array so
// the complete items survive.
func extractJSONArray(s string) string {
	if m := jsonCodeBlockRegex.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	} else {
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "[")
	if start == -1 {
		return s
	}

	depth := 0
	inString := false
	escaped := false
	lastComplete := -1 // index of the '}' closing the last complete element

	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			if escaped {
				escaped = false
				continue
			}
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']':
			depth--
			if depth == 0 {
				// Complete array
				return s[start : i+1]
			}
		case '}':
			depth--
			if depth == 1 {
				lastComplete = i
			}
		}
	}

	// Truncated: keep everything through the last complete element.
	if lastComplete != -1 {
		return s[start:lastComplete+1] + "]"
	}
	return s[start:]
}

// sanitizeJSON escapes literal newlines inside string values, a common
// defect in model output.
func sanitizeJSON(s string) string {
	var result strings.Builder
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			result.WriteByte(ch)
			escaped = false
			continue
		}

		if ch == '\\' {
			result.WriteByte(ch)
			escaped = true
			continue
		}

		if ch == '"' {
			result.WriteByte(ch)
			inString = !inString
			continue
		}

		// Replace literal newlines in strings with \n
		if inString && (ch == '\n' || ch == '\r') {
			result.WriteString("\\n")
			// Skip \r if followed by \n
			if ch == '\r' && i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			continue
		}

		result.WriteByte(ch)
	}

	return result.String()
}
