// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm defines the provider abstraction the agentic loop talks to:
// conversation messages, tool calls, token usage, and the Provider interface
// with optional streaming. Concrete adapters live in subpackages.
package llm

import (
	"context"
	"time"

	"github.com/society-labs/society/pkg/tools"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons reported by providers.
const (
	StopEndTurn   = "end_turn"
	StopMaxTokens = "max_tokens"
	StopToolUse   = "tool_use"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID uniquely identifies this call within the response.
	ID string

	// Name is the tool name as registered in the catalog.
	Name string

	// Input carries the tool parameters.
	Input map[string]any
}

// ContentBlock is one piece of a multi-modal message.
type ContentBlock struct {
	// Type is "text" or "image".
	Type string

	// Text holds text content when Type is "text".
	Text string

	// Image holds image content when Type is "image".
	Image *ImageContent
}

// ImageContent is an image attached to a message.
type ImageContent struct {
	Source ImageSource
}

// ImageSource carries the actual image bytes or a reference to them.
type ImageSource struct {
	// Type is "base64" or "url".
	Type string

	// MediaType is the MIME type ("image/png", "image/jpeg", ...).
	MediaType string

	// Data holds base64-encoded bytes when Type is "base64".
	Data string

	// URL points at the image when Type is "url".
	URL string
}

// Message is a single turn in a conversation.
type Message struct {
	// Role is who produced the turn: system, user, assistant, or tool.
	Role string

	// Content is the turn text. For text-only turns this is the whole
	// message; multi-modal turns use ContentBlocks instead.
	Content string

	// ContentBlocks carries multi-modal content. When non-empty it takes
	// precedence over Content.
	ContentBlocks []ContentBlock

	// ToolCalls lists the tool invocations requested on an assistant turn.
	ToolCalls []ToolCall

	// ToolUseID links a tool turn back to the tool_use block it answers.
	ToolUseID string

	// ToolResult carries the structured result on a tool turn. Providers
	// send the rendered Content; this is kept for bookkeeping.
	ToolResult *tools.Result

	// Timestamp is when the turn was produced.
	Timestamp time.Time

	// TokenCount and CostUSD track what the turn cost, when known.
	TokenCount int
	CostUSD    float64
}

// Usage tracks token consumption and the estimated cost of one exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// Response is what a provider returns for one exchange.
type Response struct {
	// Content is the assistant text, concatenated across text blocks.
	Content string

	// ToolCalls lists tool invocations the model requested, in emission
	// order.
	ToolCalls []ToolCall

	// StopReason says why generation ended: end_turn, max_tokens, tool_use.
	StopReason string

	// Usage reports tokens consumed and estimated cost.
	Usage Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, messages []Message, tools []tools.Tool) (*Response, error)

	// Name returns the provider name, e.g. "anthropic".
	Name() string

	// Model returns the model identifier requests are sent to.
	Model() string
}

// TokenCallback receives each text token as it streams in. Implementations
// must be lightweight; the stream reader calls them synchronously.
type TokenCallback func(token string)

// StreamingProvider is a Provider that can stream tokens as they are
// generated. The full Response is still returned once the stream ends.
type StreamingProvider interface {
	Provider

	// ChatStream behaves like Chat but invokes onToken for every text
	// fragment received.
	ChatStream(ctx context.Context, messages []Message, tools []tools.Tool, onToken TokenCallback) (*Response, error)
}

// SupportsStreaming reports whether the provider implements StreamingProvider.
func SupportsStreaming(p Provider) bool {
	_, ok := p.(StreamingProvider)
	return ok
}
