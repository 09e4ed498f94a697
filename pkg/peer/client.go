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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/errkind"
)

// Client talks to other agents' peer servers. It implements bus.Poster.
type Client struct {
	httpClient *http.Client

	probeTimeout time.Duration
	postTimeout  time.Duration
	multiTimeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeouts overrides the per-call timeouts.
func WithTimeouts(probe, post, multi time.Duration) ClientOption {
	return func(cl *Client) {
		cl.probeTimeout = probe
		cl.postTimeout = post
		cl.multiTimeout = multi
	}
}

// NewClient creates a peer client with the default fast-path timeouts.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		probeTimeout: 2 * time.Second,
		postTimeout:  5 * time.Second,
		multiTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ bus.Poster = (*Client)(nil)

// ProbeStatus checks that a peer is answering on GET /api/status.
func (c *Client) ProbeStatus(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/status", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.Timeout("status probe: %v", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return errkind.Newf(errkind.KindInvalidState, "status probe returned %d", resp.StatusCode)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.OK {
		return errkind.Newf(errkind.KindInvalidState, "peer not ready")
	}
	return nil
}

// PostMessage delivers a JSON envelope to a peer's /api/message.
func (c *Client) PostMessage(ctx context.Context, url string, m *bus.Message) error {
	ctx, cancel := context.WithTimeout(ctx, c.postTimeout)
	defer cancel()

	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/message", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	return checkAccepted(resp)
}

// PostMessageMulti delivers an envelope plus attachments to /api/message-multi.
// The id field rides along so the receiver's dedupe gate recognizes the inbox
// copy of the same message.
func (c *Client) PostMessageMulti(ctx context.Context, url string, m *bus.Message, atts []bus.Attachment) error {
	ctx, cancel := context.WithTimeout(ctx, c.multiTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"id":        m.ID,
		"from":      m.From,
		"to":        m.To,
		"type":      string(m.Type),
		"content":   m.ContentText(),
		"timestamp": m.Timestamp.Format(time.RFC3339Nano),
	}
	for key, val := range fields {
		if err := mw.WriteField(key, val); err != nil {
			return err
		}
	}
	for _, att := range atts {
		part, err := mw.CreateFormFile("attachments[]", att.Filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(att.Data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/message-multi", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	return checkAccepted(resp)
}

// PostTask submits a task directly to a peer's /api/task endpoint.
func (c *Client) PostTask(ctx context.Context, url, from, title, description string, priority int) error {
	ctx, cancel := context.WithTimeout(ctx, c.postTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"from":        from,
		"title":       title,
		"description": description,
		"priority":    priority,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/api/task", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	return checkAccepted(resp)
}

func checkAccepted(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("peer returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

// drain consumes the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
