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

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArgumentsValidJSON(t *testing.T) {
	params := ParseArguments(`{"path": "src/main.go", "max_lines": 50}`)

	assert.Equal(t, "src/main.go", params["path"])
	assert.Equal(t, float64(50), params["max_lines"])
}

func TestParseArgumentsEmpty(t *testing.T) {
	params := ParseArguments("")
	assert.Empty(t, params)

	params = ParseArguments("   \n  ")
	assert.Empty(t, params)
}

func TestParseArgumentsSalvagesWrappedObject(t *testing.T) {
	params := ParseArguments("Here are the arguments:\n```json\n{\"query\": \"TODO\"}\n```\nDone.")

	assert.Equal(t, "TODO", params["query"])
	assert.NotContains(t, params, ParseErrorKey)
}

func TestParseArgumentsSalvagesTrailingGarbage(t *testing.T) {
	params := ParseArguments(`{"path": "a.txt"} and then some explanation`)

	assert.Equal(t, "a.txt", params["path"])
}

func TestParseArgumentsHonorsBracesInStrings(t *testing.T) {
	params := ParseArguments(`{"content": "func main() { fmt.Println(\"}\") }"}`)

	assert.Equal(t, `func main() { fmt.Println("}") }`, params["content"])
}

func TestParseArgumentsNestedObjects(t *testing.T) {
	params := ParseArguments(`prefix {"outer": {"inner": 1}} suffix`)

	outer, ok := params["outer"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, float64(1), outer["inner"])
}

func TestParseArgumentsUnrecoverable(t *testing.T) {
	raw := "not json at all"
	params := ParseArguments(raw)

	assert.Equal(t, raw, params[RawInputKey])
	assert.NotEmpty(t, params[ParseErrorKey])
}

func TestParseArgumentsUnbalanced(t *testing.T) {
	raw := `{"path": "a.txt"`
	params := ParseArguments(raw)

	assert.Equal(t, raw, params[RawInputKey])
	assert.NotEmpty(t, params[ParseErrorKey])
}
