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
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/society-labs/society/pkg/bus"
)

func TestMessageContentPlainTypes(t *testing.T) {
	for _, typ := range []bus.Type{bus.TypeMessage, bus.TypeQuestion, bus.TypeTaskComplete, bus.TypeShutdown} {
		content, err := messageContent(typ, "hello there", "", 0)
		require.NoError(t, err, "type %s", typ)
		assert.Equal(t, bus.TextContent{Body: "hello there"}, content)
	}
}

func TestMessageContentTaskAssign(t *testing.T) {
	content, err := messageContent(bus.TypeTaskAssign, "Session cookie expires too early.", "Fix login", 8)
	require.NoError(t, err)

	task, ok := content.(bus.TaskAssignContent)
	require.True(t, ok)
	assert.Equal(t, "Fix login", task.Title)
	assert.Equal(t, "Session cookie expires too early.", task.Description)
	assert.Equal(t, 8, task.Priority)
}

func TestMessageContentTaskAssignRequiresTitle(t *testing.T) {
	_, err := messageContent(bus.TypeTaskAssign, "body only", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--title")
}

func TestMessageContentStatusUpdate(t *testing.T) {
	content, err := messageContent(bus.TypeStatusUpdate, "halfway through the migration", "", 0)
	require.NoError(t, err)

	update, ok := content.(bus.StatusUpdateContent)
	require.True(t, ok)
	assert.Equal(t, "halfway through the migration", update.Summary)
}

func TestMessageContentRejectsUnknownType(t *testing.T) {
	_, err := messageContent(bus.Type("carrier-pigeon"), "body", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Contains(t, err.Error(), "task_assign")
}
