// Package chat orchestrates a single conversational request from inbound
// user message to streamed, persisted answer.
//
// The pipeline runs as one state machine per request: resolve the persona,
// assemble history, issue a routing model call that either answers directly
// or requests tools, execute requested tools, issue the finalizing call with
// the same persona, and frame the streamed answer to the client. The
// assistant message is durably saved before the terminal signal goes out.
//
// Engine is stateless across requests; conversation state lives behind the
// ConversationStore interface and model access behind LLMClient, so the
// package is testable with in-memory fakes.
package chat
