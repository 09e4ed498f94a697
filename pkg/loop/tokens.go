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

package loop

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/society-labs/society/pkg/llm"
)

// DefaultContextBudget is the input-token ceiling for one request: a
// 200K-token window minus a 20K reservation for output.
const DefaultContextBudget = 180_000

// messageOverhead approximates the per-message framing cost.
const messageOverhead = 10

// tokenEstimator sizes requests for context trimming. cl100k_base is a
// close-enough approximation for Claude models; when the encoding is
// unavailable it falls back to len/4.
type tokenEstimator struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	estimatorOnce sync.Once
	estimator     *tokenEstimator
)

func sharedEstimator() *tokenEstimator {
	estimatorOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			estimator = &tokenEstimator{}
			return
		}
		estimator = &tokenEstimator{encoder: enc}
	})
	return estimator
}

func (e *tokenEstimator) count(text string) int {
	if e.encoder == nil {
		return len(text) / 4
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoder.Encode(text, nil, nil))
}

func (e *tokenEstimator) estimateMessages(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += e.count(msg.Content)
		if len(msg.ToolCalls) > 0 {
			total += e.count(fmt.Sprintf("%v", msg.ToolCalls))
		}
		if msg.ToolResult != nil {
			total += e.count(msg.ToolResult.Text())
		}
	}
	return total
}

// trimToBudget drops the oldest turns until system prompt plus history fit
// the budget. The newest message always survives, and the window never opens
// on an orphaned tool result.
func (e *tokenEstimator) trimToBudget(system string, messages []llm.Message, budget int) []llm.Message {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	base := e.count(system)
	for len(messages) > 1 && base+e.estimateMessages(messages) > budget {
		messages = messages[1:]
		for len(messages) > 1 && messages[0].Role == llm.RoleTool {
			messages = messages[1:]
		}
	}
	return messages
}
