// Package types provides OpenAI API types for server-side request/response handling.
//
// The types are written by hand rather than taken from the openai-go SDK:
//
//  1. SERVER-SIDE vs CLIENT-SIDE: The openai-go SDK is designed for making outbound
//     API calls TO OpenAI. This gateway receives inbound requests FROM clients and
//     translates them TO Anthropic, so decoding has to be lenient where the SDK is strict.
//
//  2. FIELD PATTERNS: Optional scalars are plain Go pointers (*int, *bool), which work
//     naturally with json.NewDecoder(). Polymorphic fields (message content, stop,
//     tool_choice) are kept as json.RawMessage and interpreted by the adapter, so one
//     malformed field degrades instead of failing the whole request.
//
//  3. STANDARD JSON: Everything round-trips through encoding/json.
package types
