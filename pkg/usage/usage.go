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

// Package usage tracks token consumption and spend across agents. Recent
// exchanges live in a bounded ring; per-agent and per-model rollups
// accumulate for the lifetime of the process.
package usage

import (
	"sync"
	"time"

	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/llm"
)

// DefaultCapacity is the ring size when none is configured.
const DefaultCapacity = 1024

// Entry is one recorded exchange.
type Entry struct {
	AgentID      string    `json:"agentId"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	CostUSD      float64   `json:"costUsd"`
	Timestamp    time.Time `json:"timestamp"`
}

// Rollup is the accumulated usage for one agent or model.
type Rollup struct {
	Exchanges    int     `json:"exchanges"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Tracker records exchanges and answers rollup queries. Safe for
// concurrent use.
type Tracker struct {
	mu      sync.Mutex
	ring    []Entry
	next    int
	filled  bool
	byAgent map[string]*Rollup
	byModel map[string]*Rollup
	broker  *events.Broker
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBroker makes the tracker emit an agent-usage event per exchange.
func WithBroker(broker *events.Broker) Option {
	return func(t *Tracker) { t.broker = broker }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker whose ring holds capacity entries; capacity <= 0
// uses DefaultCapacity.
func New(capacity int, opts ...Option) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Tracker{
		ring:    make([]Entry, capacity),
		byAgent: make(map[string]*Rollup),
		byModel: make(map[string]*Rollup),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record logs one exchange, pricing it from the model's price table (the
// table falls back to the most expensive family for unknown models).
func (t *Tracker) Record(agentID, model string, inputTokens, outputTokens int) Entry {
	entry := Entry{
		AgentID:      agentID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      llm.Cost(model, inputTokens, outputTokens),
	}

	t.mu.Lock()
	entry.Timestamp = t.now()
	t.ring[t.next] = entry
	t.next++
	if t.next == len(t.ring) {
		t.next = 0
		t.filled = true
	}
	t.accumulate(t.byAgent, agentID, entry)
	t.accumulate(t.byModel, model, entry)
	t.mu.Unlock()

	t.broker.Emit(events.TypeAgentUsage, agentID, "", entry)
	return entry
}

func (t *Tracker) accumulate(m map[string]*Rollup, key string, entry Entry) {
	r := m[key]
	if r == nil {
		r = &Rollup{}
		m[key] = r
	}
	r.Exchanges++
	r.InputTokens += entry.InputTokens
	r.OutputTokens += entry.OutputTokens
	r.CostUSD += entry.CostUSD
}

// Recent returns up to limit entries, oldest first. limit <= 0 returns the
// whole ring.
func (t *Tracker) Recent(limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ordered []Entry
	if t.filled {
		ordered = append(ordered, t.ring[t.next:]...)
		ordered = append(ordered, t.ring[:t.next]...)
	} else {
		ordered = append(ordered, t.ring[:t.next]...)
	}
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// ByAgent returns a copy of the per-agent rollups.
func (t *Tracker) ByAgent() map[string]Rollup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyRollups(t.byAgent)
}

// ByModel returns a copy of the per-model rollups.
func (t *Tracker) ByModel() map[string]Rollup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyRollups(t.byModel)
}

// Totals sums every recorded exchange.
func (t *Tracker) Totals() Rollup {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total Rollup
	for _, r := range t.byAgent {
		total.Exchanges += r.Exchanges
		total.InputTokens += r.InputTokens
		total.OutputTokens += r.OutputTokens
		total.CostUSD += r.CostUSD
	}
	return total
}

func copyRollups(m map[string]*Rollup) map[string]Rollup {
	out := make(map[string]Rollup, len(m))
	for k, v := range m {
		out[k] = *v
	}
	return out
}
