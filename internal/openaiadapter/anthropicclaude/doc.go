// Package anthropicclaude adapts OpenAI chat completion requests to the Anthropic Messages API,
// enabling OpenAI SDK clients to work with Claude deployments without code changes.
//
// The adapter handles:
//
//   - Message transformation: System/developer messages are hoisted to Anthropic's System field
//     while preserving conversation order. Consecutive tool results share one user turn, and
//     same-role turns are merged so roles strictly alternate starting with user.
//
//   - Model routing: Free-form model names resolve to deployments through a tier table
//     (Catalog), which also decides the output token budget and extended thinking.
//
//   - Tool calling: Bidirectional tool call ID preservation and index translation. Anthropic uses
//     mixed content indices (text=0, tool=1, ...) while OpenAI uses tool-only indices
//     (tool=0, tool=1).
//
//   - Streaming: Framer splits Anthropic's SSE bytes into events and StreamTranslator turns them
//     into OpenAI chunks. StreamSession combines both for the relay.
//
// # Adapters
//
// CreateChatCompletionAdapter: OpenAI CreateChatCompletion → Anthropic Messages
package anthropicclaude
