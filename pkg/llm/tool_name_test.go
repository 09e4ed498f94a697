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

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "read_file", SanitizeToolName("read_file"))
	assert.Equal(t, "github_create_issue", SanitizeToolName("github:create_issue"))
	assert.Equal(t, "a_b_c", SanitizeToolName("a:b:c"))
	assert.Equal(t, "", SanitizeToolName(""))
}

func TestReverseToolName(t *testing.T) {
	nameMap := map[string]string{"github_create_issue": "github:create_issue"}

	assert.Equal(t, "github:create_issue", ReverseToolName(nameMap, "github_create_issue"))
	assert.Equal(t, "read_file", ReverseToolName(nameMap, "read_file"))
	assert.Equal(t, "read_file", ReverseToolName(nil, "read_file"))
}

func TestSupportsStreaming(t *testing.T) {
	assert.False(t, SupportsStreaming(nil))
}
