package services

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// Echo answers every query with a canned markdown reply quoting it, word by word. It needs no model and
// is the default responder of the stand-in backend.
type Echo struct{}

// Respond streams the reply in word-sized chunks, keeping the whitespace that follows each word.
func (Echo) Respond(ctx context.Context, query string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reply := fmt.Sprintf("## You asked\n\n> %s\n\nThis answer comes from the **echo** responder.\n",
			strings.ReplaceAll(userQuery(query), "\n", "\n> "))

		for _, chunk := range splitWords(reply) {
			if ctx.Err() != nil {
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// userQuery strips the formatting instruction the web client appends to the user's input.
func userQuery(query string) string {
	q, _, _ := strings.Cut(query, "\nFormat Instruction:")
	return strings.TrimPrefix(q, "User query: ")
}

func splitWords(s string) []string {
	var chunks []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i-1] == ' ' || s[i-1] == '\n' {
			if s[i] != ' ' && s[i] != '\n' {
				chunks = append(chunks, s[start:i])
				start = i
			}
		}
	}
	if start < len(s) {
		chunks = append(chunks, s[start:])
	}
	return chunks
}
