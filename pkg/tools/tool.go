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

// Package tools defines the tool catalog agents call from the agentic loop:
// sandboxed filesystem access, guarded shell execution, inter-agent
// messaging, the task pool surface, skills, and MCP bridging. Tool failures
// are structured results the model can react to, never Go errors; only
// infrastructure breakage escapes as an error.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is one executable capability exposed to the model.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Description returns the usage text sent to the model.
	Description() string

	// InputSchema returns the JSON Schema for the tool parameters.
	InputSchema() *JSONSchema

	// Execute runs the tool with the given parameters.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of one tool execution.
type Result struct {
	// Success indicates whether the tool did what was asked.
	Success bool

	// Data carries the result payload; shape varies by tool.
	Data any

	// Error holds structured failure information when Success is false.
	Error *Error

	// Metadata carries tool-specific extras that should not reach the model.
	Metadata map[string]any

	// ExecutionTimeMs is stamped by the executor; executor timing is
	// authoritative even when a tool fills it in.
	ExecutionTimeMs int64
}

// Error is a structured tool failure the model can self-correct from.
type Error struct {
	// Code is a machine-readable error code.
	Code string

	// Message is the human-readable description.
	Message string

	// Details provides additional context keyed by field.
	Details map[string]any

	// Retryable indicates the same call may succeed if repeated.
	Retryable bool

	// Suggestion tells the model how to fix the call.
	Suggestion string
}

// Text renders the result payload for transcripts: strings pass through,
// anything else is JSON-encoded.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if !r.Success && r.Error != nil {
		out := r.Error.Message
		if r.Error.Suggestion != "" {
			out += "\n" + r.Error.Suggestion
		}
		return out
	}
	switch v := r.Data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ok builds a successful result.
func ok(data any) *Result {
	return &Result{Success: true, Data: data}
}

// fail builds a structured failure result.
func fail(code, message, suggestion string) *Result {
	return &Result{
		Success: false,
		Error:   &Error{Code: code, Message: message, Suggestion: suggestion},
	}
}

// failDetails builds a failure result carrying extra context.
func failDetails(code, message, suggestion string, details map[string]any) *Result {
	return &Result{
		Success: false,
		Error:   &Error{Code: code, Message: message, Suggestion: suggestion, Details: details},
	}
}

// JSONSchema describes tool parameters following the JSON Schema spec.
type JSONSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []any                  `json:"enum,omitempty"`
	Default     any                    `json:"default,omitempty"`
	Format      string                 `json:"format,omitempty"`
	Pattern     string                 `json:"pattern,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	MinLength   *int                   `json:"minLength,omitempty"`
	MaxLength   *int                   `json:"maxLength,omitempty"`
}

// ToJSON converts the schema to JSON bytes.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// NewObjectSchema creates an object schema with the given properties.
func NewObjectSchema(description string, properties map[string]*JSONSchema, required []string) *JSONSchema {
	return &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// NewStringSchema creates a string schema.
func NewStringSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "string", Description: description}
}

// NewNumberSchema creates a number schema.
func NewNumberSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "number", Description: description}
}

// NewBooleanSchema creates a boolean schema.
func NewBooleanSchema(description string) *JSONSchema {
	return &JSONSchema{Type: "boolean", Description: description}
}

// NewArraySchema creates an array schema.
func NewArraySchema(description string, items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: "array", Description: description, Items: items}
}

// WithEnum adds enum values to the schema.
func (s *JSONSchema) WithEnum(values ...any) *JSONSchema {
	s.Enum = values
	return s
}

// WithDefault adds a default value to the schema.
func (s *JSONSchema) WithDefault(value any) *JSONSchema {
	s.Default = value
	return s
}

// WithRange adds min/max constraints to the schema.
func (s *JSONSchema) WithRange(min, max float64) *JSONSchema {
	s.Minimum = &min
	s.Maximum = &max
	return s
}

// WithLength adds length constraints to the schema.
func (s *JSONSchema) WithLength(minLen, maxLen int) *JSONSchema {
	s.MinLength = &minLen
	s.MaxLength = &maxLen
	return s
}

// stringParam extracts a required string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}

// optionalString extracts an optional string parameter with a default.
func optionalString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

// optionalNumber extracts an optional numeric parameter with a default.
// JSON decoding hands numbers to tools as float64.
func optionalNumber(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err == nil {
			return f
		}
	}
	return def
}

// optionalBool extracts an optional boolean parameter with a default.
func optionalBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
