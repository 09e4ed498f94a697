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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceForMatchesFamily(t *testing.T) {
	assert.Equal(t, 3.0, PriceFor("claude-sonnet-4-5-20250929").InputPerMTok)
	assert.Equal(t, 15.0, PriceFor("claude-3-5-sonnet-20241022").OutputPerMTok)
	assert.Equal(t, 75.0, PriceFor("claude-3-opus-20240229").OutputPerMTok)
	assert.Equal(t, 0.80, PriceFor("claude-3-5-haiku-20241022").InputPerMTok)
}

func TestPriceForUnknownModelFallsBackHigh(t *testing.T) {
	// Unknown models get the most expensive family so cost estimates never
	// understate spend.
	assert.Equal(t, DefaultPrice, PriceFor("some-future-model"))
	assert.Equal(t, DefaultPrice, PriceFor(""))
}

func TestCost(t *testing.T) {
	// Sonnet: $3/MTok in, $15/MTok out.
	assert.InDelta(t, 18.0, Cost("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.018, Cost("claude-sonnet-4-5-20250929", 1000, 1000), 1e-9)
	assert.Zero(t, Cost("claude-sonnet-4-5-20250929", 0, 0))
}
