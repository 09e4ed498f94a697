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

package peer

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/events"
)

type recordingDeliverer struct {
	mu       sync.Mutex
	messages []*bus.Message
}

func (d *recordingDeliverer) Deliver(_ context.Context, m *bus.Message) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, m)
	return true
}

func (d *recordingDeliverer) all() []*bus.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*bus.Message(nil), d.messages...)
}

func startServer(t *testing.T, agentID string, d Deliverer, opts ...ServerOption) (*Server, string) {
	t.Helper()
	opts = append(opts, WithServerLogger(zaptest.NewLogger(t)))
	srv := NewServer(agentID, d, opts...)
	url, err := srv.Start(context.Background(), DefaultPortMin, DefaultPortMax)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv, url
}

func TestProbeStatus(t *testing.T) {
	rec := &recordingDeliverer{}
	_, url := startServer(t, "agent-a", rec)

	client := NewClient()
	require.NoError(t, client.ProbeStatus(context.Background(), url))
}

func TestProbeStatusDown(t *testing.T) {
	client := NewClient(WithTimeouts(200*time.Millisecond, time.Second, time.Second))
	err := client.ProbeStatus(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)
}

func TestPostMessageRoundTrip(t *testing.T) {
	rec := &recordingDeliverer{}
	_, url := startServer(t, "agent-b", rec)

	sent := &bus.Message{
		ID:        "msg-1",
		From:      "agent-a",
		To:        "agent-b",
		Type:      bus.TypeMessage,
		Content:   bus.TextContent{Body: "hello over http"},
		Timestamp: time.Now().UTC(),
	}
	client := NewClient()
	require.NoError(t, client.PostMessage(context.Background(), url, sent))

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "msg-1", got[0].ID)
	assert.Equal(t, "agent-a", got[0].From)
	assert.Equal(t, "agent-b", got[0].To)
	assert.Equal(t, "hello over http", got[0].ContentText())
}

func TestPostMessageFillsDefaults(t *testing.T) {
	rec := &recordingDeliverer{}
	_, url := startServer(t, "agent-b", rec)

	sent := &bus.Message{
		From:    "agent-a",
		Type:    bus.TypeMessage,
		Content: bus.TextContent{Body: "no id, no target"},
	}
	client := NewClient()
	require.NoError(t, client.PostMessage(context.Background(), url, sent))

	got := rec.all()
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, "agent-b", got[0].To)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestPostMessageRejectsInvalid(t *testing.T) {
	rec := &recordingDeliverer{}
	_, url := startServer(t, "agent-b", rec)

	client := NewClient()
	err := client.PostMessage(context.Background(), url, &bus.Message{Type: bus.TypeMessage})
	require.Error(t, err)
	assert.Empty(t, rec.all())
}

func TestPostMessageMultiCarriesIDAndAttachments(t *testing.T) {
	rec := &recordingDeliverer{}
	_, url := startServer(t, "agent-b", rec)

	ts := time.Now().UTC().Truncate(time.Millisecond)
	sent := &bus.Message{
		ID:        "msg-multi-1",
		From:      "agent-a",
		To:        "agent-b",
		Type:      bus.TypeMessage,
		Content:   bus.TextContent{Body: "see attached"},
		Timestamp: ts,
	}
	atts := []bus.Attachment{
		{Filename: "report.txt", MimeType: "text/plain", Data: []byte("quarterly numbers")},
		{Filename: "data.bin", Data: []byte{0x01, 0x02, 0x03}},
	}
	client := NewClient()
	require.NoError(t, client.PostMessageMulti(context.Background(), url, sent, atts))

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "msg-multi-1", got[0].ID)
	assert.Equal(t, "see attached", got[0].ContentText())
	assert.True(t, got[0].Timestamp.Equal(ts))
}

func TestPostTaskSynthesizesAssignment(t *testing.T) {
	rec := &recordingDeliverer{}
	_, url := startServer(t, "agent-b", rec)

	client := NewClient()
	require.NoError(t, client.PostTask(context.Background(), url, "agent-a", "Index the docs", "Walk ./docs and build an index.", 2))

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, bus.TypeTaskAssign, got[0].Type)
	assert.Equal(t, "agent-b", got[0].To)
	ta, ok := got[0].Content.(bus.TaskAssignContent)
	require.True(t, ok)
	assert.Equal(t, "Index the docs", ta.Title)
	assert.Equal(t, 2, ta.Priority)
}

func TestTwoServersGetDistinctPorts(t *testing.T) {
	srvA, _ := startServer(t, "agent-a", &recordingDeliverer{})
	srvB, _ := startServer(t, "agent-b", &recordingDeliverer{})

	assert.NotEqual(t, srvA.Port(), srvB.Port())
	assert.GreaterOrEqual(t, srvA.Port(), DefaultPortMin)
	assert.LessOrEqual(t, srvB.Port(), DefaultPortMax)
}

func TestEventStream(t *testing.T) {
	broker := events.NewBroker()
	_, url := startServer(t, "agent-a", &recordingDeliverer{}, WithEventBroker(broker))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *sse.Event, 4)
	client := sse.NewClient(url + "/api/events")
	go func() {
		_ = client.SubscribeWithContext(ctx, EventStreamID, func(msg *sse.Event) {
			if len(msg.Data) > 0 {
				select {
				case received <- msg:
				default:
				}
			}
		})
	}()

	// Publish until the subscriber observes one; subscription attach is async.
	deadline := time.After(4 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			broker.Emit(events.TypeAgentMessage, "agent-a", "", map[string]any{"note": "ping"})
		case evt := <-received:
			assert.Contains(t, string(evt.Data), "agent-message")
			return
		case <-deadline:
			t.Fatal("no event arrived on the stream")
		}
	}
}

func TestStatusEndpointShape(t *testing.T) {
	_, url := startServer(t, "agent-a", &recordingDeliverer{})

	resp, err := http.Get(url + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}
