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

// Package anthropic implements the llm.Provider interface against the
// Anthropic Messages API with a hand-rolled HTTP client, including SSE
// streaming and prompt caching for the tool block.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/society-labs/society/pkg/llm"
	"github.com/society-labs/society/pkg/tools"
)

const (
	// DefaultModel is the Claude model used when none is configured.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the Anthropic Messages API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the per-request output token ceiling.
	DefaultMaxTokens = 8192
	// DefaultTimeout is the HTTP client timeout.
	DefaultTimeout = 120 * time.Second

	apiVersion = "2023-06-01"

	// abortPoll is how often a streaming read checks for context
	// cancellation while blocked on the response body.
	abortPoll = 100 * time.Millisecond
)

// Client talks to the Anthropic Messages API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// Config holds construction parameters for the client.
type Config struct {
	APIKey      string
	Model       string        // default: claude-sonnet-4-5-20250929
	Endpoint    string        // default: https://api.anthropic.com/v1/messages
	Timeout     time.Duration // default: 120s
	MaxTokens   int           // default: 8192
	Temperature float64       // default: 1.0
}

// NewClient creates an Anthropic client with defaults filled in.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient:  &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Chat sends the conversation and returns the complete response.
func (c *Client) Chat(ctx context.Context, messages []llm.Message, toolset []tools.Tool) (*llm.Response, error) {
	nameMap := map[string]string{}
	system, apiMessages := splitSystem(messages)
	req := &MessagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      system,
		Tools:       convertTools(toolset, nameMap),
	}

	resp, err := c.callAPI(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return c.convertResponse(resp, nameMap), nil
}

// splitSystem converts loop messages to API form. System turns are pulled
// out and joined, since the Messages API takes them as a separate field.
func splitSystem(messages []llm.Message) (string, []Message) {
	var systemParts []string
	var apiMessages []Message

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}

		case llm.RoleUser:
			if len(msg.ContentBlocks) > 0 {
				var content []ContentBlock
				for _, block := range msg.ContentBlocks {
					switch block.Type {
					case "text":
						content = append(content, ContentBlock{Type: "text", Text: block.Text})
					case "image":
						if block.Image != nil {
							content = append(content, ContentBlock{
								Type: "image",
								Source: &ImageSource{
									Type:      block.Image.Source.Type,
									MediaType: block.Image.Source.MediaType,
									Data:      block.Image.Source.Data,
									URL:       block.Image.Source.URL,
								},
							})
						}
					}
				}
				apiMessages = append(apiMessages, Message{Role: "user", Content: content})
			} else {
				apiMessages = append(apiMessages, Message{
					Role:    "user",
					Content: []ContentBlock{{Type: "text", Text: msg.Content}},
				})
			}

		case llm.RoleAssistant:
			var content []ContentBlock
			if msg.Content != "" {
				content = append(content, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  llm.SanitizeToolName(tc.Name),
					Input: tc.Input,
				})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, Message{Role: "assistant", Content: content})
			}

		case llm.RoleTool:
			// Tool results travel as user turns carrying a tool_result block.
			apiMessages = append(apiMessages, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolUseID,
					Content:   msg.Content,
				}},
			})
		}
	}

	return strings.Join(systemParts, "\n\n"), apiMessages
}

// convertTools converts catalog tools to API form, sanitizing names and
// recording the sanitized→original mapping. The last tool carries a
// cache_control breakpoint so the whole tool block is served from cache.
func convertTools(toolset []tools.Tool, nameMap map[string]string) []Tool {
	var apiTools []Tool
	for _, t := range toolset {
		original := t.Name()
		sanitized := llm.SanitizeToolName(original)
		nameMap[sanitized] = original

		schema := t.InputSchema()
		if schema == nil {
			schema = &tools.JSONSchema{Type: "object"}
		}
		apiTools = append(apiTools, Tool{
			Name:        sanitized,
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	if len(apiTools) > 0 {
		apiTools[len(apiTools)-1].CacheControl = &CacheControl{Type: "ephemeral"}
	}
	return apiTools
}

// convertResponse converts an API response to loop form.
func (c *Client) convertResponse(resp *MessagesResponse, nameMap map[string]string) *llm.Response {
	out := &llm.Response{
		StopReason: resp.StopReason,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
			CostUSD:      llm.Cost(c.model, resp.Usage.InputTokens, resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  llm.ReverseToolName(nameMap, block.Name),
				Input: block.Input,
			})
		}
	}
	return out
}

// ChatStream sends the conversation with stream=true and decodes the SSE
// event stream, invoking onToken for every text delta.
func (c *Client) ChatStream(ctx context.Context, messages []llm.Message, toolset []tools.Tool, onToken llm.TokenCallback) (*llm.Response, error) {
	nameMap := map[string]string{}
	system, apiMessages := splitSystem(messages)
	req := &MessagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      system,
		Tools:       convertTools(toolset, nameMap),
		Stream:      true,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpResp, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("anthropic: API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	// Poll for cancellation while the scanner blocks on the body; closing
	// the body unblocks the read.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		ticker := time.NewTicker(abortPoll)
		defer ticker.Stop()
		for {
			select {
			case <-watcherDone:
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					_ = httpResp.Body.Close()
					return
				}
			}
		}
	}()

	var content strings.Builder
	var toolCalls []llm.ToolCall
	usage := llm.Usage{}
	var stopReason string
	tokenCount := 0

	// Tool input JSON streams in fragments keyed by content block index.
	inputBuffers := make(map[int]*strings.Builder)
	callIndex := make(map[int]int)

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var event StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			// Malformed frames are skipped, not fatal.
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				idx := len(toolCalls)
				toolCalls = append(toolCalls, llm.ToolCall{
					ID:    event.ContentBlock.ID,
					Name:  llm.ReverseToolName(nameMap, event.ContentBlock.Name),
					Input: map[string]any{},
				})
				inputBuffers[event.Index] = &strings.Builder{}
				callIndex[event.Index] = idx
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					content.WriteString(event.Delta.Text)
					tokenCount++
					if onToken != nil {
						onToken(event.Delta.Text)
					}
				}
			case "input_json_delta":
				if buf, ok := inputBuffers[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if buf, ok := inputBuffers[event.Index]; ok && buf.Len() > 0 {
				var input map[string]any
				if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
					if idx, ok := callIndex[event.Index]; ok && idx < len(toolCalls) {
						toolCalls[idx].Input = input
					}
				}
			}
			delete(inputBuffers, event.Index)
			delete(callIndex, event.Index)

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if event.Usage != nil {
				if event.Usage.InputTokens > 0 {
					usage.InputTokens = event.Usage.InputTokens
				}
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}

	if usage.OutputTokens == 0 {
		usage.OutputTokens = tokenCount
	}
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	usage.CostUSD = llm.Cost(c.model, usage.InputTokens, usage.OutputTokens)

	return &llm.Response{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

// callAPI performs a non-streaming request.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := c.send(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// send issues one POST with the standard headers.
func (c *Client) send(ctx context.Context, body []byte) (*http.Response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

var (
	_ llm.Provider          = (*Client)(nil)
	_ llm.StreamingProvider = (*Client)(nil)
)
