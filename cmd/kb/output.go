package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// Constants for output formatting.
const (
	SnippetMaxLen = 70 // Source and concept descriptions in human output
	TextWrapWidth = 72 // Answer text in human output
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// truncateString truncates s to maxLen runes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxLen-3]) + "..."
}

// wrapText wraps text to the specified width with indentation on subsequent lines.
func wrapText(text string, width int, indent string) string {
	if utf8.RuneCountInString(text) <= width {
		return text
	}

	var lines []string
	var line strings.Builder
	lineLen := 0
	for _, word := range strings.Fields(text) {
		n := utf8.RuneCountInString(word)
		switch {
		case lineLen == 0:
			line.WriteString(word)
			lineLen = n
		case lineLen+1+n <= width:
			line.WriteString(" ")
			line.WriteString(word)
			lineLen += 1 + n
		default:
			lines = append(lines, line.String())
			line.Reset()
			line.WriteString(word)
			lineLen = n
		}
	}
	if lineLen > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n"+indent)
}
