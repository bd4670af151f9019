package engine

import (
	"strings"

	"chatd/pkg/types"
)

// renderPrompt flattens role-tagged messages into the plain-text template fed
// to the model.
func renderPrompt(messages []types.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("assistant:")
	return b.String()
}

// estimateTokens approximates the token count of text for backends that do
// not expose a tokenizer. Four bytes per token is the usual rule of thumb
// for English text.
func estimateTokens(text string) int {
	n := len(text)/4 + 1
	return n
}
