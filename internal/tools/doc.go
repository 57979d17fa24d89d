// Package tools defines the capability interface the chat engine invokes
// mid-conversation, the immutable registry those capabilities live in, and
// the bounded-concurrency executor that runs model-requested calls.
//
// A tool is anything implementing Handler: a name, a description, a JSON
// schema for its input, and a single Execute method. Typed tools are built
// with New, which derives the schema from the input struct and erases the
// types behind a JSON round trip, so heterogeneous tools share one registry.
//
// Execution failures are data, not control flow: every requested call
// produces an Invocation whose Err field carries a structured
// ExecutionError (or ErrUnknownTool) that is handed back to the model,
// which is expected to acknowledge partial or failed results.
package tools
