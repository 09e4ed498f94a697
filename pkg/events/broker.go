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

// Package events is the in-process event sink: a topic broker that fans
// runtime events out to subscribers (the SSE bridge, tests, logs) without
// ever blocking a publisher.
package events

import (
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types the runtime broadcasts.
const (
	TypeAgentMessage  = "agent-message"
	TypeToolExecution = "tool-execution"
	TypeTaskCreated   = "task-created"
	TypeTaskClaimed   = "task-claimed"
	TypeTaskCompleted = "task-completed"
	TypeTaskFailed    = "task-failed"
	TypeWorkerSpawned = "worker-spawned"
	TypeWorkerDone    = "worker-finished"
	TypeAgentReport   = "agent-report"
	TypeFileCreated   = "file-created"
	TypeFileDeleted   = "file-deleted"
	TypeFileMoved     = "file-moved"
	TypeAgentUsage    = "agent-usage"
	TypeSystem        = "system-event"
)

// Event is one broadcast item.
type Event struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agentId,omitempty"`
	ProjectID string    `json:"projectId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type subscription struct {
	id      string
	pattern string
	ch      chan Event
}

// Broker fans events out to pattern subscribers. Sends never block: a full
// subscriber channel drops the event and bumps the dropped counter.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	dropped atomic.Int64
	sent    atomic.Int64
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the broker logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// NewBroker creates an event broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[string]*subscription),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers interest in events whose type matches the glob
// pattern ("*" for everything, "task-*" for the task family). The returned
// cancel func closes the channel and removes the subscription.
func (b *Broker) Subscribe(pattern string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{
		id:      uuid.NewString(),
		pattern: pattern,
		ch:      make(chan Event, buffer),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish broadcasts an event to every matching subscriber.
func (b *Broker) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !matchesPattern(sub.pattern, evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
			b.sent.Add(1)
		default:
			b.dropped.Add(1)
			b.logger.Debug("event dropped, subscriber full",
				zap.String("type", evt.Type),
				zap.String("pattern", sub.pattern))
		}
	}
}

// Emit is shorthand for Publish with the common fields.
func (b *Broker) Emit(eventType, agentID, projectID string, payload any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: eventType, AgentID: agentID, ProjectID: projectID, Payload: payload})
}

// Stats returns (delivered, dropped) counts.
func (b *Broker) Stats() (int64, int64) {
	return b.sent.Load(), b.dropped.Load()
}

// SubscriberCount returns the live subscription count.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func matchesPattern(pattern, eventType string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, eventType)
	return err == nil && ok
}
