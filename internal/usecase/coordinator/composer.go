package coordinator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/hybridcoord/internal/domain"
	domknow "github.com/kailas-cloud/hybridcoord/internal/domain/knowledge"
)

// DefaultContextTokenBudget caps the tokens of injected knowledge.
const DefaultContextTokenBudget = 2000

const (
	instructions = "You are a coding assistant. Answer the user's question concisely. " +
		"Prefer the known solutions below when they apply."
	knowledgeHeader = "\n\n[Known Solutions]\n"
	callerHeader    = "\n\n[Caller Context]\n"
)

// Composer builds prompts from the query, caller context and retrieved knowledge.
type Composer struct {
	budget int
}

// NewComposer creates a Composer. A non-positive budget uses DefaultContextTokenBudget.
func NewComposer(budget int) *Composer {
	if budget <= 0 {
		budget = DefaultContextTokenBudget
	}
	return &Composer{budget: budget}
}

// Compose puts caller context and the best-fitting matches into the system message.
// When the budget runs out the lowest-similarity matches are dropped first.
// It returns the prompt and the matches that made it in.
func (c *Composer) Compose(query, callerContext string, matches []domknow.Match) (domain.Prompt, []domknow.Match) {
	var sb strings.Builder
	sb.WriteString(instructions)

	remaining := c.budget
	if callerContext != "" {
		section := callerHeader + callerContext
		sb.WriteString(section)
		remaining -= EstimateTokens(section)
	}

	sorted := make([]domknow.Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Similarity > sorted[j].Similarity })

	remaining -= EstimateTokens(knowledgeHeader)
	var used []domknow.Match
	var chunks []string
	for _, m := range sorted {
		chunk := formatMatch(m)
		tokens := EstimateTokens(chunk)
		if tokens > remaining {
			continue
		}
		chunks = append(chunks, chunk)
		used = append(used, m)
		remaining -= tokens
	}
	if len(chunks) > 0 {
		sb.WriteString(knowledgeHeader)
		for _, ch := range chunks {
			sb.WriteString(ch)
		}
	}

	return domain.Prompt{System: strings.TrimRight(sb.String(), "\n"), User: query}, used
}

func formatMatch(m domknow.Match) string {
	return fmt.Sprintf("(similarity %.2f)\n%s\n\n", m.Similarity, m.Entry.Content())
}

// EstimateTokens approximates the token count at four bytes per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
