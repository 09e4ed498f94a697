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

package usage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/society-labs/society/pkg/events"
)

func TestRecordComputesCost(t *testing.T) {
	tracker := New(8)

	entry := tracker.Record("researcher", "claude-sonnet-4-5", 1_000_000, 1_000_000)

	// Sonnet family: $3/MTok in, $15/MTok out.
	assert.InDelta(t, 18.0, entry.CostUSD, 1e-9)
	assert.Equal(t, "researcher", entry.AgentID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestRecentReturnsOldestFirst(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	tick := 0
	tracker := New(8, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	for i := 0; i < 5; i++ {
		tracker.Record(fmt.Sprintf("agent-%d", i), "claude-haiku-3-5", 10, 10)
	}

	recent := tracker.Recent(0)
	require.Len(t, recent, 5)
	assert.Equal(t, "agent-0", recent[0].AgentID)
	assert.Equal(t, "agent-4", recent[4].AgentID)
	assert.True(t, recent[0].Timestamp.Before(recent[4].Timestamp))

	limited := tracker.Recent(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "agent-3", limited[0].AgentID)
	assert.Equal(t, "agent-4", limited[1].AgentID)
}

func TestRollupsSurviveRingEviction(t *testing.T) {
	tracker := New(4)

	// Write well past capacity; the ring keeps only the last 4 entries
	// but the rollups must account for all 20.
	for i := 0; i < 20; i++ {
		tracker.Record("builder", "claude-sonnet-4-5", 100, 50)
	}

	recent := tracker.Recent(0)
	assert.Len(t, recent, 4)

	byAgent := tracker.ByAgent()
	require.Contains(t, byAgent, "builder")
	assert.Equal(t, 20, byAgent["builder"].Exchanges)
	assert.Equal(t, 2000, byAgent["builder"].InputTokens)
	assert.Equal(t, 1000, byAgent["builder"].OutputTokens)

	totals := tracker.Totals()
	assert.Equal(t, 20, totals.Exchanges)
	assert.Equal(t, 2000, totals.InputTokens)
}

func TestByModelSplitsFamilies(t *testing.T) {
	tracker := New(16)

	tracker.Record("a", "claude-opus-4-1", 10, 10)
	tracker.Record("b", "claude-opus-4-1", 10, 10)
	tracker.Record("c", "claude-haiku-3-5", 10, 10)

	byModel := tracker.ByModel()
	require.Len(t, byModel, 2)
	assert.Equal(t, 2, byModel["claude-opus-4-1"].Exchanges)
	assert.Equal(t, 1, byModel["claude-haiku-3-5"].Exchanges)
}

func TestRecordEmitsUsageEvent(t *testing.T) {
	broker := events.NewBroker()
	ch, cancel := broker.Subscribe(events.TypeAgentUsage, 4)
	defer cancel()

	tracker := New(8, WithBroker(broker))
	tracker.Record("researcher", "claude-sonnet-4-5", 42, 7)

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeAgentUsage, ev.Type)
		assert.Equal(t, "researcher", ev.AgentID)
		entry, ok := ev.Payload.(Entry)
		require.True(t, ok)
		assert.Equal(t, 42, entry.InputTokens)
	case <-time.After(time.Second):
		t.Fatal("no usage event received")
	}
}

func TestRecordWithoutBrokerDoesNotPanic(t *testing.T) {
	tracker := New(2)
	assert.NotPanics(t, func() {
		tracker.Record("solo", "claude-sonnet-4-5", 1, 1)
	})
}

func TestRingExactlyAtCapacity(t *testing.T) {
	tracker := New(3)
	for i := 0; i < 3; i++ {
		tracker.Record(fmt.Sprintf("agent-%d", i), "m", 1, 1)
	}

	recent := tracker.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "agent-0", recent[0].AgentID)
	assert.Equal(t, "agent-2", recent[2].AgentID)
}
