// ABOUTME: Package documentation for the provider package
// ABOUTME: Describes the upstream chat-completion adapter

// Package provider implements a client for OpenAI-compatible chat
// completion endpoints.
//
// Stream parses the upstream server-sent-event protocol into a channel of
// typed events. Reasoning text arrives either as a dedicated
// reasoning_content delta field or inline in content wrapped in
// <think></think> tags; both forms surface on the Thinking channel of
// ContentEvent. Complete covers small one-shot calls such as session title
// generation.
package provider
