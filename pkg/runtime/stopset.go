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

package runtime

import (
	"sync"
	"time"

	"github.com/society-labs/society/pkg/loop"
)

// DefaultStopTTL is how long a stop request stays visible. Expiry covers the
// race where the targeted run already finished: a stale entry must not kill
// the agent's next, unrelated run.
const DefaultStopTTL = 30 * time.Second

// StopSet records externally requested stops. The agentic loop polls it
// between iterations and during streaming.
type StopSet struct {
	mu      sync.Mutex
	entries map[string]time.Time // agent id → expiry
	ttl     time.Duration
	now     func() time.Time
}

var _ loop.Stopper = (*StopSet)(nil)

// StopSetOption configures a StopSet.
type StopSetOption func(*StopSet)

// WithStopTTL overrides the entry lifetime.
func WithStopTTL(d time.Duration) StopSetOption {
	return func(s *StopSet) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithStopClock overrides the time source for tests.
func WithStopClock(now func() time.Time) StopSetOption {
	return func(s *StopSet) { s.now = now }
}

// NewStopSet creates an empty stop set.
func NewStopSet(opts ...StopSetOption) *StopSet {
	s := &StopSet{
		entries: make(map[string]time.Time),
		ttl:     DefaultStopTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add requests a stop for agentID. Re-adding refreshes the expiry.
func (s *StopSet) Add(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[agentID] = s.now().Add(s.ttl)
}

// Remove withdraws a pending stop request.
func (s *StopSet) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, agentID)
}

// Contains reports whether a live stop request exists for agentID. Expired
// entries are pruned on the way.
func (s *StopSet) Contains(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	_, ok := s.entries[agentID]
	return ok
}

// Len returns the number of live entries.
func (s *StopSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return len(s.entries)
}

// prune drops expired entries. Caller holds mu.
func (s *StopSet) prune() {
	now := s.now()
	for id, expiry := range s.entries {
		if now.After(expiry) {
			delete(s.entries, id)
		}
	}
}
