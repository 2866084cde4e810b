package modelclient

import "strings"

// ExtractBalancedJSON returns the first balanced {...} or [...] span in
// s, tolerating fenced code blocks and leading prose. It is the shared
// helper real and fake CompleteJSON implementations use before
// unmarshaling, per spec.md §6's requirement that schema completion
// "tolerate fenced JSON and leading prose."
func ExtractBalancedJSON(s string) (string, bool) {
	s = stripFences(s)

	start := -1
	var openCh, closeCh byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			openCh = s[i]
			if openCh == '{' {
				closeCh = '}'
			} else {
				closeCh = ']'
			}
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		lines := strings.SplitN(s, "\n", 2)
		if len(lines) == 2 {
			s = lines[1]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
