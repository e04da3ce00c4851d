package ai

import (
	"strings"
	"unicode/utf8"
)

// SystemPrompt is sent as the system instruction of every synthesis call.
const SystemPrompt = "You will answer questions using only the provided context."

// DefaultContextBudget is the rune budget for the context block, about 6k tokens.
const DefaultContextBudget = 24000

// FitContexts keeps whole contexts in rank order while they fit in budget
// runes. A first context longer than the budget is truncated; later ones
// that do not fit are dropped. Answer.ContextCount still counts every
// retrieved context, not only the ones that reach the model.
func FitContexts(contexts []string, budget int) []string {
	if budget <= 0 || len(contexts) == 0 {
		return contexts
	}

	out := make([]string, 0, len(contexts))
	used := 0
	for i, c := range contexts {
		n := utf8.RuneCountInString(c)
		if used+n <= budget {
			out = append(out, c)
			used += n
			continue
		}
		if i == 0 {
			out = append(out, string([]rune(c)[:budget]))
		}
		break
	}
	return out
}

// BuildPrompt renders the user message for a question and its contexts.
func BuildPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Use the following context to answer the question.\n\n")
	b.WriteString("Context:\n")
	for i, c := range contexts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("- ")
		b.WriteString(c)
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\nAnswer concisely using the context above. ")
	b.WriteString("If the context does not contain the answer, say that you could not find relevant information.")
	return b.String()
}
