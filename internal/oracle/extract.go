package oracle

import "strings"

// ExtractJSON finds the first balanced JSON object or array in text.
// Oracle responses often wrap JSON in prose or markdown fences; this
// scanner tolerates both. Returns "" when no balanced payload exists.
func ExtractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return ""
	}

	startChar := text[start]
	endChar := byte('}')
	if startChar == '[' {
		endChar = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				if ch != endChar {
					return ""
				}
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ExtractCodeBlock extracts the first fenced code block from a
// markdown-style response. When no fence is present the trimmed text is
// returned as-is since some models emit raw code.
func ExtractCodeBlock(text, lang string) string {
	patterns := []string{
		"```" + lang + "\n",
		"```" + lang + "\r\n",
		"```\n",
	}

	for _, pattern := range patterns {
		if idx := strings.Index(text, pattern); idx != -1 {
			start := idx + len(pattern)
			end := strings.Index(text[start:], "```")
			if end != -1 {
				return strings.TrimSpace(text[start : start+end])
			}
		}
	}
	return strings.TrimSpace(text)
}
