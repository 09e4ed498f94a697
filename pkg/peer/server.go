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

// Package peer implements the per-agent HTTP surface: the local server other
// agents POST messages to, and the client used for the bus fast path.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"

	"github.com/society-labs/society/pkg/bus"
	"github.com/society-labs/society/pkg/events"
)

// EventStreamID is the SSE stream name served at /api/events.
const EventStreamID = "runtime"

// maxMultipartMemory bounds in-memory multipart parsing; larger attachment
// parts spill to disk.
const maxMultipartMemory = 32 << 20

// apiResponse is the {ok, status, statusText} shape every endpoint returns.
type apiResponse struct {
	OK         bool   `json:"ok"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
}

// Deliverer accepts an inbound message; bus.Bus satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, m *bus.Message) bool
}

// Server is one agent's local HTTP endpoint.
type Server struct {
	agentID   string
	deliverer Deliverer
	broker    *events.Broker
	logger    *zap.Logger

	httpSrv   *http.Server
	sseSrv    *sse.Server
	cancelSub func()
	url       string
	port      int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithEventBroker bridges runtime events onto GET /api/events.
func WithEventBroker(broker *events.Broker) ServerOption {
	return func(s *Server) { s.broker = broker }
}

// NewServer creates the peer server for an agent. Inbound messages flow
// through deliverer so the bus's verification and at-most-once gate apply.
func NewServer(agentID string, deliverer Deliverer, opts ...ServerOption) *Server {
	s := &Server{
		agentID:   agentID,
		deliverer: deliverer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start scans [portMin, portMax], binds the first free port, and serves in
// the background. The returned URL is what belongs in the registry.
func (s *Server) Start(ctx context.Context, portMin, portMax int) (string, error) {
	ln, port, err := listenFirstFree(portMin, portMax)
	if err != nil {
		return "", err
	}
	s.port = port
	s.url = fmt.Sprintf("http://127.0.0.1:%d", port)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/message", s.handleMessage)
	mux.HandleFunc("POST /api/message-multi", s.handleMessageMulti)
	mux.HandleFunc("POST /api/task", s.handleTask)

	if s.broker != nil {
		s.sseSrv = sse.New()
		s.sseSrv.AutoReplay = false
		s.sseSrv.CreateStream(EventStreamID)
		mux.HandleFunc("GET /api/events", s.sseSrv.ServeHTTP)

		ch, cancel := s.broker.Subscribe("*", 256)
		s.cancelSub = cancel
		go s.pumpEvents(ch)
	}

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("peer server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("peer server listening",
		zap.String("agent_id", s.agentID),
		zap.String("url", s.url))
	return s.url, nil
}

// Stop shuts the server down gracefully and releases the port.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancelSub != nil {
		s.cancelSub()
	}
	if s.sseSrv != nil {
		s.sseSrv.Close()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// URL returns the bound URL, empty before Start.
func (s *Server) URL() string { return s.url }

// Port returns the bound port, zero before Start.
func (s *Server) Port() int { return s.port }

// pumpEvents forwards broker events onto the SSE stream.
func (s *Server) pumpEvents(ch <-chan events.Event) {
	for evt := range ch {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		s.sseSrv.Publish(EventStreamID, &sse.Event{
			Event: []byte(evt.Type),
			Data:  data,
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMultipartMemory))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var m bus.Message
	if err := json.Unmarshal(body, &m); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed envelope")
		return
	}
	if m.From == "" || m.Type == "" {
		writeAPIError(w, http.StatusBadRequest, "envelope requires from and type")
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.To == "" {
		m.To = s.agentID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	s.deliverer.Deliver(r.Context(), &m)
	writeJSON(w, http.StatusAccepted, apiResponse{OK: true, Status: http.StatusAccepted, StatusText: "accepted"})
}

func (s *Server) handleMessageMulti(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	form := r.MultipartForm
	m := bus.Message{
		ID:      formValue(form, "id"),
		From:    formValue(form, "from"),
		To:      formValue(form, "to"),
		Type:    bus.Type(formValue(form, "type")),
		Content: bus.TextContent{Body: formValue(form, "content")},
	}
	if m.From == "" || m.Type == "" {
		writeAPIError(w, http.StatusBadRequest, "envelope requires from and type")
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.To == "" {
		m.To = s.agentID
	}
	if ts := formValue(form, "timestamp"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = parsed
		}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	atts, err := readAttachments(form)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "unreadable attachment")
		return
	}
	if len(atts) > 0 {
		s.logger.Debug("attachments received",
			zap.String("message_id", m.ID),
			zap.Int("count", len(atts)))
	}

	s.deliverer.Deliver(r.Context(), &m)
	writeJSON(w, http.StatusAccepted, apiResponse{OK: true, Status: http.StatusAccepted, StatusText: "accepted"})
}

// handleTask synthesizes a task_assign envelope from a plain task body.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		From        string `json:"from"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
		Content     string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "malformed task body")
		return
	}
	if body.From == "" {
		writeAPIError(w, http.StatusBadRequest, "task requires from")
		return
	}

	var content bus.Content
	if body.Title != "" {
		content = bus.TaskAssignContent{Title: body.Title, Description: body.Description, Priority: body.Priority}
	} else {
		content = bus.TextContent{Body: body.Content}
	}

	m := bus.Message{
		ID:        uuid.NewString(),
		From:      body.From,
		To:        s.agentID,
		Type:      bus.TypeTaskAssign,
		Content:   content,
		Timestamp: time.Now(),
	}
	s.deliverer.Deliver(r.Context(), &m)
	writeJSON(w, http.StatusAccepted, apiResponse{OK: true, Status: http.StatusAccepted, StatusText: "accepted"})
}

func formValue(form *multipart.Form, key string) string {
	if vals := form.Value[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func readAttachments(form *multipart.Form) ([]bus.Attachment, error) {
	headers := form.File["attachments[]"]
	if len(headers) == 0 {
		headers = form.File["attachments"]
	}
	atts := make([]bus.Attachment, 0, len(headers))
	for _, hdr := range headers {
		f, err := hdr.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		atts = append(atts, bus.Attachment{
			Filename: hdr.Filename,
			MimeType: hdr.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return atts, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, text string) {
	writeJSON(w, status, apiResponse{OK: false, Status: status, StatusText: text})
}
