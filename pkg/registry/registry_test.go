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
package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/statestore"
)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(dir, statestore.New(), opts...), dir
}

func TestRegisterStampsRegisteredAtOnce(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, Registration{ID: "backend-1", Role: RoleBackend, PID: 100}))

	first, err := r.Get(ctx, "backend-1")
	require.NoError(t, err)
	require.False(t, first.RegisteredAt.IsZero())

	// Re-register with a new URL; RegisteredAt must survive.
	require.NoError(t, r.Register(ctx, Registration{
		ID: "backend-1", Role: RoleBackend, PID: 100, URL: "http://localhost:3001",
	}))

	second, err := r.Get(ctx, "backend-1")
	require.NoError(t, err)
	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)
	assert.Equal(t, "http://localhost:3001", second.URL)
}

func TestHeartbeatMonotonic(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	r, _ := newTestRegistry(t, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, Registration{ID: "a", Role: RoleTester}))

	var last time.Time
	for i := 0; i < 5; i++ {
		current = current.Add(30 * time.Second)
		require.NoError(t, r.Heartbeat(ctx, "a", StatusBusy))
		reg, err := r.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, reg.LastHeartbeat.After(last) || reg.LastHeartbeat.Equal(last))
		last = reg.LastHeartbeat
	}

	// A clock that goes backwards must not regress the stored heartbeat.
	current = current.Add(-10 * time.Minute)
	require.NoError(t, r.Heartbeat(ctx, "a", StatusIdle))
	reg, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, last, reg.LastHeartbeat)
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r, _ := newTestRegistry(t)
	err := r.Heartbeat(context.Background(), "ghost", StatusOnline)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindNotFound))
}

func TestOnlineWindow(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	r, _ := newTestRegistry(t, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, Registration{ID: "fresh", Role: RoleBackend}))

	current = current.Add(3 * time.Minute)
	require.NoError(t, r.Register(ctx, Registration{ID: "alive", Role: RoleFrontend}))

	online, err := r.Online(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "alive", online[0].ID)
}

func TestMarkOfflineExcludedFromOnline(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, Registration{ID: "w1", Role: RoleCustom}))
	require.NoError(t, r.MarkOffline(ctx, "w1"))

	online, err := r.Online(ctx)
	require.NoError(t, err)
	assert.Empty(t, online)

	reg, err := r.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, reg.Status)
}

func TestLegacyLogFallback(t *testing.T) {
	r, dir := newTestRegistry(t)
	ctx := context.Background()

	// Only the legacy append-only log exists; last write per id wins.
	legacy := filepath.Join(dir, LegacyLogFile)
	require.NoError(t, statestore.Append(legacy, Registration{
		ID: "old", Role: RoleBackend, Status: StatusIdle,
	}))
	require.NoError(t, statestore.Append(legacy, Registration{
		ID: "old", Role: RoleBackend, Status: StatusBusy,
	}))

	all, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusBusy, all[0].Status)

	// Writing through the registry switches reads to the snapshot.
	require.NoError(t, r.Register(ctx, Registration{ID: "new", Role: RoleTester}))
	all, err = r.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].ID)
}

func TestGenerateID(t *testing.T) {
	id := GenerateID(RoleSupervisor)
	assert.Regexp(t, `^supervisor-[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, GenerateID(RoleSupervisor))
}
