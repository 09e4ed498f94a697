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
	"encoding/json"
	"strings"

	"github.com/society-labs/society/pkg/llm"
)

// Repetition thresholds.
const (
	toolLoopStreak      = 2
	commandWindow       = 5
	commandRepeatLimit  = 3
	commandNormalizeLen = 100
	textNormalizeLen    = 100
	textRepeatLimit     = 4
	streamChunkMin      = 5
	streamChunkLimit    = 3
	streamSuffixLen     = 30
	streamSuffixLimit   = 3
)

// toolLoopDetector trips when consecutive turns issue the exact same tool
// calls. The first occurrence counts toward the streak, so the first repeat
// already stops the loop.
type toolLoopDetector struct {
	prev   string
	streak int
}

func (d *toolLoopDetector) observe(calls []llm.ToolCall) bool {
	sig := toolSignature(calls)
	if sig == "" {
		d.prev, d.streak = "", 0
		return false
	}
	if sig == d.prev {
		d.streak++
	} else {
		d.prev, d.streak = sig, 1
	}
	return d.streak >= toolLoopStreak
}

// toolSignature serializes name+input for every call in emission order.
// Go's map marshalling sorts keys, so equal inputs yield equal signatures.
func toolSignature(calls []llm.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, call := range calls {
		b.WriteString(call.Name)
		b.WriteByte('(')
		if raw, err := json.Marshal(call.Input); err == nil {
			b.Write(raw)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// commandLoopDetector watches the last few run_command invocations and trips
// when one command dominates the window.
type commandLoopDetector struct {
	window []string
}

func (d *commandLoopDetector) observe(command string) bool {
	norm := normalizeCommand(command)
	if norm == "" {
		return false
	}
	d.window = append(d.window, norm)
	if len(d.window) > commandWindow {
		d.window = d.window[1:]
	}
	count := 0
	for _, seen := range d.window {
		if seen == norm {
			count++
		}
	}
	return count >= commandRepeatLimit
}

func normalizeCommand(command string) string {
	return truncateRunes(strings.Join(strings.Fields(command), " "), commandNormalizeLen)
}

// textLoopDetector counts normalized response openings across the whole run.
type textLoopDetector struct {
	counts map[string]int
}

func newTextLoopDetector() *textLoopDetector {
	return &textLoopDetector{counts: make(map[string]int)}
}

func (d *textLoopDetector) observe(text string) bool {
	key := truncateRunes(strings.ToLower(strings.Join(strings.Fields(text), " ")), textNormalizeLen)
	if key == "" {
		return false
	}
	d.counts[key]++
	return d.counts[key] >= textRepeatLimit
}

// streamLoopDetector inspects tokens as they arrive: identical chunks and
// recurring tail windows both indicate the model is stuck. It also keeps the
// accumulated text so a cancelled stream still yields the partial turn.
type streamLoopDetector struct {
	text        strings.Builder
	lastChunk   string
	chunkStreak int
	suffixes    map[string]int
}

func newStreamLoopDetector() *streamLoopDetector {
	return &streamLoopDetector{suffixes: make(map[string]int)}
}

func (d *streamLoopDetector) observe(chunk string) bool {
	d.text.WriteString(chunk)

	if len(chunk) >= streamChunkMin {
		if chunk == d.lastChunk {
			d.chunkStreak++
		} else {
			d.lastChunk, d.chunkStreak = chunk, 1
		}
		if d.chunkStreak >= streamChunkLimit {
			return true
		}
	}

	if suffix := lastRunes(d.text.String(), streamSuffixLen); suffix != "" {
		d.suffixes[suffix]++
		if d.suffixes[suffix] >= streamSuffixLimit {
			return true
		}
	}
	return false
}

func (d *streamLoopDetector) accumulated() string {
	return d.text.String()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// lastRunes returns the trailing n runes, or "" when the text is shorter.
func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) < n {
		return ""
	}
	return string(runes[len(runes)-n:])
}
