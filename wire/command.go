package wire

import "strings"

// Command payloads are pipe-delimited ASCII with the usual escaping: a field
// may contain pipes, commas, backslashes and newlines as long as they are
// escaped. Splitting walks the string once and honors escapes.

// Escape escapes special characters in a command field.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return s
}

// Unescape reverses Escape. Unrecognized escapes are kept verbatim.
func Unescape(s string) string {
	var result strings.Builder
	escaped := false
	for _, ch := range s {
		if escaped {
			switch ch {
			case '|':
				result.WriteRune('|')
			case ',':
				result.WriteRune(',')
			case '\\':
				result.WriteRune('\\')
			case 'n':
				result.WriteRune('\n')
			case 'r':
				result.WriteRune('\r')
			default:
				result.WriteRune('\\')
				result.WriteRune(ch)
			}
			escaped = false
		} else if ch == '\\' {
			escaped = true
		} else {
			result.WriteRune(ch)
		}
	}
	if escaped {
		result.WriteRune('\\')
	}
	return result.String()
}

// JoinCommand escapes each field and joins them with pipes.
func JoinCommand(fields ...string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = Escape(f)
	}
	return strings.Join(escaped, "|")
}

// SplitCommand splits a command string on unescaped pipes and unescapes each
// field.
func SplitCommand(line string) []string {
	var parts []string
	var current strings.Builder
	escaped := false

	for _, ch := range line {
		if escaped {
			current.WriteRune('\\')
			current.WriteRune(ch)
			escaped = false
		} else if ch == '\\' {
			escaped = true
		} else if ch == '|' {
			parts = append(parts, Unescape(current.String()))
			current.Reset()
		} else {
			current.WriteRune(ch)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	parts = append(parts, Unescape(current.String()))
	return parts
}

// JoinList joins list items with commas for embedding in a command field.
// Field-level escaping protects the commas on the wire.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// SplitList splits a comma-separated list on unescaped commas.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	var current strings.Builder
	escaped := false

	for _, ch := range s {
		if escaped {
			current.WriteRune('\\')
			current.WriteRune(ch)
			escaped = false
		} else if ch == '\\' {
			escaped = true
		} else if ch == ',' {
			parts = append(parts, current.String())
			current.Reset()
		} else {
			current.WriteRune(ch)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	parts = append(parts, current.String())
	return parts
}
