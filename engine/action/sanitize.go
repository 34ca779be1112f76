package action

import "strings"

// SanitizeCode strips a Markdown code fence from model output. The first
// fenced block wins; a leading language tag matching language is dropped.
// Text without fences is only trimmed.
func SanitizeCode(code, language string) string {
	if !strings.Contains(code, "```") {
		return strings.TrimSpace(code)
	}
	blocks := strings.Split(code, "```")
	if len(blocks) < 3 {
		return strings.TrimSpace(code)
	}
	block := blocks[1]
	lines := strings.Split(block, "\n")
	if len(lines) > 1 && language != "" && strings.EqualFold(strings.TrimSpace(lines[0]), language) {
		return strings.TrimSpace(strings.Join(lines[1:], "\n"))
	}
	if len(lines) > 1 && isLanguageTag(lines[0]) {
		return strings.TrimSpace(strings.Join(lines[1:], "\n"))
	}
	return strings.TrimSpace(block)
}

// isLanguageTag matches the info string of a fence such as "go" or "c++".
func isLanguageTag(line string) bool {
	tag := strings.TrimSpace(line)
	if tag == "" || len(tag) > 20 {
		return false
	}
	return !strings.ContainsAny(tag, " \t(){};=")
}
