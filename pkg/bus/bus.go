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
package bus

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/society-labs/society/internal/csync"
	"github.com/society-labs/society/pkg/errkind"
	"github.com/society-labs/society/pkg/events"
	"github.com/society-labs/society/pkg/registry"
	"github.com/society-labs/society/pkg/statestore"
)

const (
	// MessagesFile is the global append-only message log.
	MessagesFile = "messages.jsonl"
	// DeliveriesFile records which recipient handled which message.
	DeliveriesFile = "deliveries.jsonl"
	// InboxDir holds the per-recipient inbox logs.
	InboxDir = "inboxes"

	// DefaultPollInterval is the inbox poller cadence. The fsnotify watcher
	// is a latency optimization; this poll is the correctness floor.
	DefaultPollInterval = 3 * time.Second
)

// Handler processes one inbound message. It runs synchronously: the delivery
// record is appended only after the handler returns.
type Handler func(ctx context.Context, m *Message)

// Poster is the HTTP fast path, implemented by peer.Client. All methods
// apply their own timeouts (2s probe, 5s post, 30s multipart).
type Poster interface {
	ProbeStatus(ctx context.Context, url string) error
	PostMessage(ctx context.Context, url string, m *Message) error
	PostMessageMulti(ctx context.Context, url string, m *Message, atts []Attachment) error
}

// Bus sends and receives messages for one agent over the shared directory.
type Bus struct {
	dir      string
	self     string
	reg      *registry.Registry
	poster   Poster
	signer   *Signer
	verifier *Verifier
	broker   *events.Broker
	logger   *zap.Logger
	poll     time.Duration
	now      func() time.Time

	mu        sync.Mutex // serializes scans and offset updates
	inboxOff  int64
	globalOff int64

	handlerMu sync.RWMutex
	handler   Handler

	delivered *csync.Map[string, struct{}]
	paused    atomic.Bool
	seeded    atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithSigner makes outbound envelopes signed.
func WithSigner(s *Signer) Option {
	return func(b *Bus) { b.signer = s }
}

// WithVerifier sets the inbound signature policy.
func WithVerifier(v *Verifier) Option {
	return func(b *Bus) { b.verifier = v }
}

// WithPoster enables the HTTP fast path.
func WithPoster(p Poster) Option {
	return func(b *Bus) { b.poster = p }
}

// WithBroker emits agent-message events on delivery.
func WithBroker(broker *events.Broker) Option {
	return func(b *Bus) { b.broker = broker }
}

// WithPollInterval overrides the poller cadence.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) { b.poll = d }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates a Bus for the given agent over the shared directory.
func New(dir, self string, reg *registry.Registry, opts ...Option) *Bus {
	b := &Bus{
		dir:       dir,
		self:      self,
		reg:       reg,
		logger:    zap.NewNop(),
		poll:      DefaultPollInterval,
		now:       time.Now,
		delivered: csync.NewMap[string, struct{}](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) inboxPath(agentID string) string {
	return filepath.Join(b.dir, InboxDir, agentID+".jsonl")
}

func (b *Bus) messagesPath() string {
	return filepath.Join(b.dir, MessagesFile)
}

func (b *Bus) deliveriesPath() string {
	return filepath.Join(b.dir, DeliveriesFile)
}

// SetHandler registers the message handler. Must be called before Start or
// CatchUp.
func (b *Bus) SetHandler(h Handler) {
	b.handlerMu.Lock()
	b.handler = h
	b.handlerMu.Unlock()
}

func (b *Bus) currentHandler() Handler {
	b.handlerMu.RLock()
	defer b.handlerMu.RUnlock()
	return b.handler
}

// SetPaused suspends or resumes inbound processing. Sends are unaffected.
func (b *Bus) SetPaused(paused bool) {
	b.paused.Store(paused)
}

// Send writes the message to the durable path and then attempts the HTTP
// fast path. The returned message carries the generated id and timestamp.
func (b *Bus) Send(ctx context.Context, to string, typ Type, content Content, atts ...Attachment) (*Message, error) {
	m := &Message{
		ID:        uuid.NewString(),
		From:      b.self,
		To:        to,
		Type:      typ,
		Content:   content,
		Timestamp: b.now(),
	}
	if b.signer != nil {
		b.signer.Sign(m)
	}

	// Guaranteed path, inbox first. Broadcasts live in the global log since
	// every agent must see them.
	if to == Broadcast {
		if err := statestore.Append(b.messagesPath(), m); err != nil {
			return nil, err
		}
	} else {
		if err := statestore.Append(b.inboxPath(to), m); err != nil {
			b.logger.Warn("inbox append failed, falling back to global log",
				zap.String("to", to),
				zap.Error(err))
			if err2 := statestore.Append(b.messagesPath(), m); err2 != nil {
				return nil, err2
			}
		}
	}

	b.fastPath(ctx, m, atts)
	return m, nil
}

// fastPath best-effort POSTs the message to live recipients. Failures are
// logged and swallowed; the inbox file is the system of record.
func (b *Bus) fastPath(ctx context.Context, m *Message, atts []Attachment) {
	if b.poster == nil || b.reg == nil {
		return
	}

	var targets []registry.Registration
	if m.To == Broadcast {
		online, err := b.reg.Online(ctx)
		if err != nil {
			b.logger.Debug("fast path skipped, registry unreadable", zap.Error(err))
			return
		}
		targets = online
	} else {
		reg, err := b.reg.Get(ctx, m.To)
		if err != nil {
			b.logger.Debug("fast path skipped, recipient not registered",
				zap.String("to", m.To))
			return
		}
		targets = []registry.Registration{reg}
	}

	for _, target := range targets {
		if target.ID == b.self || target.URL == "" {
			continue
		}
		if err := b.poster.ProbeStatus(ctx, target.URL); err != nil {
			b.logger.Debug("status probe failed, relying on inbox",
				zap.String("to", target.ID),
				zap.Error(err))
			continue
		}
		var err error
		if len(atts) > 0 {
			err = b.poster.PostMessageMulti(ctx, target.URL, m, atts)
		} else {
			err = b.poster.PostMessage(ctx, target.URL, m)
		}
		if err != nil {
			b.logger.Debug("fast path post failed, relying on inbox",
				zap.String("to", target.ID),
				zap.Error(err))
		}
	}
}

// Start seeds the delivery cache and runs the inbox poller plus the change
// watcher until ctx is done. Both paths converge on the same delivery
// pipeline.
func (b *Bus) Start(ctx context.Context) error {
	if b.currentHandler() == nil {
		return errkind.InvalidState("bus requires a handler before Start")
	}
	if err := b.seedDeliveredCache(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		b.logger.Warn("file watcher unavailable, polling only", zap.Error(err))
		watcher = nil
	} else {
		for _, dir := range []string{b.dir, filepath.Join(b.dir, InboxDir)} {
			if err := watcher.Add(dir); err != nil {
				b.logger.Debug("watch failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	}

	go b.run(ctx, watcher)
	return nil
}

func (b *Bus) run(ctx context.Context, watcher *fsnotify.Watcher) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if watcher != nil {
		defer watcher.Close()
		fsEvents = watcher.Events
		fsErrors = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.deliverPending(ctx)
		case evt, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(evt.Name)
			if name == MessagesFile || name == b.self+".jsonl" {
				b.deliverPending(ctx)
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			b.logger.Debug("watcher error", zap.Error(err))
		}
	}
}

// CatchUp replays the whole inbox and message log, processing every
// undelivered message addressed to this agent in timestamp order. It also
// fast-forwards the poller offsets so the backlog is not rescanned.
func (b *Bus) CatchUp(ctx context.Context) error {
	if b.currentHandler() == nil {
		return errkind.InvalidState("bus requires a handler before CatchUp")
	}
	if err := b.seedDeliveredCache(); err != nil {
		return err
	}

	inboxRecs, inboxOff, err := statestore.ReadFrom[Message](b.inboxPath(b.self), 0)
	if err != nil {
		return err
	}
	globalRecs, globalOff, err := statestore.ReadFrom[Message](b.messagesPath(), 0)
	if err != nil {
		return err
	}

	pending := make([]Message, 0, len(inboxRecs)+len(globalRecs))
	pending = append(pending, inboxRecs...)
	pending = append(pending, globalRecs...)
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	handled := 0
	for i := range pending {
		if b.handleRecord(ctx, &pending[i]) {
			handled++
		}
	}

	b.mu.Lock()
	b.inboxOff = inboxOff
	b.globalOff = globalOff
	b.mu.Unlock()

	if handled > 0 {
		b.logger.Info("catch-up complete",
			zap.String("agent_id", b.self),
			zap.Int("handled", handled),
			zap.Int("scanned", len(pending)))
	}
	return nil
}

// Recent returns the newest messages addressed to this agent, oldest first,
// capped at limit. With markRead, messages not yet delivered are recorded as
// delivered so Start and CatchUp will not replay them to the handler.
func (b *Bus) Recent(ctx context.Context, limit int, markRead bool) ([]Message, error) {
	if err := b.seedDeliveredCache(); err != nil {
		return nil, err
	}

	inboxRecs, _, err := statestore.ReadFrom[Message](b.inboxPath(b.self), 0)
	if err != nil {
		return nil, err
	}
	globalRecs, _, err := statestore.ReadFrom[Message](b.messagesPath(), 0)
	if err != nil {
		return nil, err
	}

	all := make([]Message, 0, len(inboxRecs)+len(globalRecs))
	for _, recs := range [][]Message{inboxRecs, globalRecs} {
		for _, m := range recs {
			if !m.IsFor(b.self) {
				continue
			}
			if m.To == Broadcast && m.From == b.self {
				continue
			}
			if _, done := b.delivered.Get(m.ID); done {
				m.Delivered = true
			}
			all = append(all, m)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}

	if markRead {
		now := b.now()
		for i := range all {
			m := &all[i]
			if m.Delivered {
				continue
			}
			b.delivered.Set(m.ID, struct{}{})
			if err := statestore.Append(b.deliveriesPath(), Delivery{
				MessageID:   m.ID,
				DeliveredTo: b.self,
				DeliveredAt: now,
			}); err != nil {
				return nil, err
			}
			m.Delivered = true
			at := now
			m.DeliveredAt = &at
		}
	}
	return all, nil
}

// Deliver pushes an externally received message (the HTTP fast path) through
// the same pipeline as the file paths, so verification and the at-most-once
// gate apply no matter how a message arrives. Returns true when the handler
// ran.
func (b *Bus) Deliver(ctx context.Context, m *Message) bool {
	if err := b.seedDeliveredCache(); err != nil {
		b.logger.Warn("delivery cache seed failed", zap.Error(err))
	}
	return b.handleRecord(ctx, m)
}

// deliverPending scans both logs from the saved offsets and pushes new
// records through the delivery pipeline.
func (b *Bus) deliverPending(ctx context.Context) {
	if b.paused.Load() {
		return
	}

	b.mu.Lock()
	inboxRecs, inboxOff, err := statestore.ReadFrom[Message](b.inboxPath(b.self), b.inboxOff)
	if err == nil {
		b.inboxOff = inboxOff
	}
	globalRecs, globalOff, gerr := statestore.ReadFrom[Message](b.messagesPath(), b.globalOff)
	if gerr == nil {
		b.globalOff = globalOff
	}
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("inbox scan failed", zap.Error(err))
	}
	if gerr != nil {
		b.logger.Warn("message log scan failed", zap.Error(gerr))
	}

	for i := range inboxRecs {
		b.handleRecord(ctx, &inboxRecs[i])
	}
	for i := range globalRecs {
		b.handleRecord(ctx, &globalRecs[i])
	}
}

// handleRecord runs the delivery pipeline for one parsed record. Returns
// true when the handler was invoked.
func (b *Bus) handleRecord(ctx context.Context, m *Message) bool {
	if !m.IsFor(b.self) {
		return false
	}
	// A broadcast loops back through the global log to its own sender.
	if m.To == Broadcast && m.From == b.self {
		return false
	}
	if err := b.verifier.Verify(m); err != nil {
		// Rejected envelopes never reach the handler and leave no delivery
		// record.
		b.logger.Warn("message rejected",
			zap.String("message_id", m.ID),
			zap.String("from", m.From),
			zap.Error(err))
		return false
	}
	if _, done := b.delivered.Get(m.ID); done {
		return false
	}

	handler := b.currentHandler()
	if handler == nil {
		return false
	}
	handler(ctx, m)

	now := b.now()
	b.delivered.Set(m.ID, struct{}{})
	if err := statestore.Append(b.deliveriesPath(), Delivery{
		MessageID:   m.ID,
		DeliveredTo: b.self,
		DeliveredAt: now,
	}); err != nil {
		b.logger.Error("delivery record append failed",
			zap.String("message_id", m.ID),
			zap.Error(err))
	}

	b.broker.Emit(events.TypeAgentMessage, b.self, "", map[string]any{
		"messageId": m.ID,
		"from":      m.From,
		"type":      string(m.Type),
	})
	return true
}

// seedDeliveredCache loads this agent's delivery history once per process.
func (b *Bus) seedDeliveredCache() error {
	if b.seeded.Swap(true) {
		return nil
	}
	records, _, err := statestore.ReadAllCounted[Delivery](b.deliveriesPath(), b.logger)
	if err != nil {
		b.seeded.Store(false)
		return err
	}
	for _, rec := range records {
		if rec.DeliveredTo == b.self {
			b.delivered.Set(rec.MessageID, struct{}{})
		}
	}
	return nil
}
