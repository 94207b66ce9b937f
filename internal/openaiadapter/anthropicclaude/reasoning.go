package anthropicclaude

import (
	"github.com/ccbridge/ccbridge/internal/openaiadapter"
)

// Reasoning budgets for OpenAI's reasoning_effort levels.
// Mapping: low ≈ 1,024 tokens, medium ≈ 8,192 tokens, high ≈ 24,576 tokens
var reasoningEffortBudgets = map[string]int64{
	"low":    1024,
	"medium": 8192,
	"high":   24576,
}

// thinkingBudget decides whether the request runs in thinking mode and with which budget.
//
// A thinking keyword in the model name selects the configured budget, which is kept
// small on purpose: large budgets make the model narrate tool use instead of calling
// tools. keyword reports that case, which also fixes max_tokens at the thinking ceiling.
// Without a keyword, reasoning_effort maps to a fixed budget on deployments that
// support thinking. Zero means off.
func thinkingBudget(catalog *Catalog, clientReq *openaiadapter.CreateChatCompletionRequest, deployment string) (budget int64, keyword bool) {
	if catalog.ThinkingEnabled(clientReq.Model) {
		return catalog.ThinkingBudget(), true
	}

	if clientReq.ReasoningEffort != nil && catalog.SupportsThinking(deployment) {
		// Unknown reasoning_effort values are ignored; thinking remains off
		return reasoningEffortBudgets[*clientReq.ReasoningEffort], false
	}

	return 0, false
}
