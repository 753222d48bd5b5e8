// Package llm - util.go provides shared utilities for LLM response processing.
package llm

import "strings"

// CleanJSONBlock extracts the JSON payload from an LLM response. It
// strips markdown code block wrappers, conversational preamble before
// the JSON, and trailing text after it. LLMs produce all three even
// when instructed not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Handle ```json ... ``` blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Handle generic ``` ... ``` blocks
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			// If first line looks like a language identifier (no spaces, short), skip it
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Bare response: locate the first object or array and cut everything
	// around it.
	objIdx := strings.Index(text, "{")
	arrIdx := strings.Index(text, "[")
	start := objIdx
	if start < 0 || (arrIdx >= 0 && arrIdx < start) {
		start = arrIdx
	}
	if start < 0 {
		return text
	}

	var extracted string
	if text[start] == '{' {
		extracted = extractJSONObject(text[start:])
	} else {
		extracted = extractJSONArray(text[start:])
	}
	if extracted != "" {
		return extracted
	}
	return text
}

// extractJSONObject returns the balanced JSON object at the start of s,
// or "" if s does not begin with one. Braces inside strings and escaped
// quotes do not count toward nesting.
func extractJSONObject(s string) string {
	return extractBalanced(s, '{', '}')
}

// extractJSONArray returns the balanced JSON array at the start of s,
// or "" if s does not begin with one.
func extractJSONArray(s string) string {
	return extractBalanced(s, '[', ']')
}

func extractBalanced(s string, opener, closer byte) string {
	if len(s) == 0 || s[0] != opener {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
