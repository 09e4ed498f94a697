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

// Package bus implements the hybrid messaging layer: durable per-recipient
// inbox files plus a best-effort HTTP fast path, with delivery tracking that
// guarantees at-most-once handling per (message, recipient) across restarts.
package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type classifies a message envelope.
type Type string

const (
	TypeTaskAssign   Type = "task_assign"
	TypeTaskComplete Type = "task_complete"
	TypeMessage      Type = "message"
	TypeQuestion     Type = "question"
	TypeStatusUpdate Type = "status_update"
	TypeShutdown     Type = "shutdown"
)

// Broadcast is the recipient id that addresses every agent.
const Broadcast = "broadcast"

// Content is the tagged union of message payloads. Persisted form is either
// a bare JSON string (legacy plain-text envelopes) or an object with a
// "kind" discriminator; unknown objects round-trip opaquely.
type Content interface {
	// Kind returns the discriminator tag.
	Kind() string
	// Text renders the payload for prompts, previews, and signing.
	Text() string
}

// TextContent is a plain-text payload.
type TextContent struct {
	Body string `json:"text"`
}

func (TextContent) Kind() string   { return "text" }
func (c TextContent) Text() string { return c.Body }

// TaskAssignContent carries a task handed to another agent.
type TaskAssignContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority,omitempty"`
}

func (TaskAssignContent) Kind() string { return "task_assign" }
func (c TaskAssignContent) Text() string {
	if c.Description == "" {
		return c.Title
	}
	return fmt.Sprintf("%s\n\n%s", c.Title, c.Description)
}

// StatusUpdateContent carries a progress report.
type StatusUpdateContent struct {
	Status     string `json:"status"`
	Summary    string `json:"summary"`
	Completion int    `json:"completion,omitempty"`
}

func (StatusUpdateContent) Kind() string { return "status_update" }
func (c StatusUpdateContent) Text() string {
	return fmt.Sprintf("[%s] %s", c.Status, c.Summary)
}

// StructuredContent preserves payload shapes this version does not model.
type StructuredContent struct {
	Raw json.RawMessage
}

func (StructuredContent) Kind() string   { return "structured" }
func (c StructuredContent) Text() string { return string(c.Raw) }

// Attachment is a file carried alongside a message on the multipart path.
// Attachments are never written to the inbox logs.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"-"`
}

// Message is the wire and log envelope.
type Message struct {
	ID          string     `json:"id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	Type        Type       `json:"type"`
	Content     Content    `json:"-"`
	Timestamp   time.Time  `json:"timestamp"`
	Delivered   bool       `json:"delivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	Nonce       string     `json:"nonce,omitempty"`
	Signature   string     `json:"signature,omitempty"`
}

// IsFor reports whether the message addresses the given agent.
func (m *Message) IsFor(agentID string) bool {
	return m.To == agentID || m.To == Broadcast
}

// ContentText renders the payload, tolerating a nil content.
func (m *Message) ContentText() string {
	if m.Content == nil {
		return ""
	}
	return m.Content.Text()
}

// contentHash is the digest the signature covers.
func (m *Message) contentHash() string {
	sum := sha256.Sum256([]byte(m.ContentText()))
	return hex.EncodeToString(sum[:])
}

// SigningBase is the exact byte string a detached signature covers.
func (m *Message) SigningBase() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		m.ID, m.From, m.To, m.Timestamp.UTC().Format(time.RFC3339Nano), m.Nonce, m.contentHash()))
}

type messageAlias Message

type messageWire struct {
	*messageAlias
	RawContent json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON encodes Content into the "content" field: plain strings for
// text payloads, kind-tagged objects for the rest.
func (m Message) MarshalJSON() ([]byte, error) {
	raw, err := encodeContent(m.Content)
	if err != nil {
		return nil, err
	}
	alias := messageAlias(m)
	return json.Marshal(messageWire{messageAlias: &alias, RawContent: raw})
}

// UnmarshalJSON decodes the "content" field back into the tagged union.
// Plain strings become TextContent; unknown object shapes stay structured.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	wire.messageAlias = (*messageAlias)(m)
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	content, err := decodeContent(wire.RawContent)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}

func encodeContent(c Content) (json.RawMessage, error) {
	switch v := c.(type) {
	case nil:
		return nil, nil
	case TextContent:
		return json.Marshal(v.Body)
	case *TextContent:
		return json.Marshal(v.Body)
	case StructuredContent:
		return v.Raw, nil
	case *StructuredContent:
		return v.Raw, nil
	default:
		body, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		// Wrap with the discriminator without reflecting on field order.
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
		fields["kind"] = c.Kind()
		return json.Marshal(fields)
	}
}

func decodeContent(raw json.RawMessage) (Content, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return TextContent{Body: s}, nil
	}

	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		// Arrays, numbers, or other non-object payloads stay opaque.
		return StructuredContent{Raw: raw}, nil
	}

	switch probe.Kind {
	case "text":
		var c TextContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case "task_assign":
		var c TaskAssignContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case "status_update":
		var c StatusUpdateContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return StructuredContent{Raw: raw}, nil
	}
}

// Delivery marks that a recipient has handled a message.
type Delivery struct {
	MessageID   string    `json:"messageId"`
	DeliveredTo string    `json:"deliveredTo"`
	DeliveredAt time.Time `json:"deliveredAt"`
}
