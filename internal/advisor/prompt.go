package advisor

import (
	_ "embed"
	"strings"
)

// SystemPrompt is the system-level instruction for the advisor.
//
//go:embed prompts/system.md
var SystemPrompt string

// UserPromptTemplate precedes the pane content in the user message.
//
//go:embed prompts/user.md
var UserPromptTemplate string

// stripMarkdownFences removes a ```json ... ``` wrapper some models add
// around JSON output.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
