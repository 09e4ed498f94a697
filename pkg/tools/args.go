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
	"encoding/json"
	"strings"
)

// ParseErrorKey marks salvaged-but-unparseable tool arguments. The raw text
// rides along under RawInputKey so the model can see what it produced and
// self-correct on the next turn.
const (
	ParseErrorKey = "_parseError"
	RawInputKey   = "_raw"
)

// ParseArguments decodes model-produced tool arguments. Models occasionally
// wrap the JSON object in prose or emit trailing garbage; when direct
// decoding fails we salvage the first balanced {...} region. Unrecoverable
// input comes back as a marker map rather than an error, so the failure
// reaches the model as a correctable tool result.
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err == nil {
		return params
	}

	if region, found := balancedObject(raw); found {
		if err := json.Unmarshal([]byte(region), &params); err == nil {
			return params
		}
	}

	return map[string]any{
		ParseErrorKey: "tool arguments were not valid JSON",
		RawInputKey:   raw,
	}
}

// balancedObject extracts the first balanced top-level {...} region,
// honoring strings and escape sequences.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
