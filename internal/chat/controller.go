// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeranaias/flowchat/internal/event"
	"github.com/jeranaias/flowchat/internal/settings"
	"github.com/jeranaias/flowchat/internal/stream"
	"github.com/jeranaias/flowchat/internal/workflow"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport posts a workflow run and returns the streaming body.
// *workflow.Client implements it.
type Transport interface {
	Run(ctx context.Context, req workflow.RunRequest) (io.ReadCloser, error)
}

// SettingsSource supplies the endpoint and credential at send time.
// *settings.Store implements it.
type SettingsSource interface {
	Read() settings.Settings
}

// IdentitySource supplies the stable client id.
// *identity.Provider implements it.
type IdentitySource interface {
	ClientID() string
}

// Config wires a Controller. Transport, Settings and Identity are required.
type Config struct {
	Transport Transport
	Settings  SettingsSource
	Identity  IdentitySource

	// Optional; default to slog.Default() and the global OpenTelemetry providers.
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller holds one conversation and at most one in-flight request.
// All methods are safe for concurrent use.
type Controller struct {
	transport Transport
	settings  SettingsSource
	identity  IdentitySource
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   instruments

	mu       sync.Mutex
	messages []Message
	err      error
	loading  bool
	version  uint64
	gen      uint64 // bumped by every accepted send and by Cancel
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int

	// notifyMu serializes delivery; delivered is the last version sent.
	notifyMu  sync.Mutex
	delivered uint64
}

// NewController creates a Controller with an empty conversation.
func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	return &Controller{
		transport: cfg.Transport,
		settings:  cfg.Settings,
		identity:  cfg.Identity,
		logger:    logger,
		tracer:    tracer,
		metrics:   newInstruments(meter, logger),
		observers: make(map[int]func(Snapshot)),
	}
}

// Subscribe registers fn to receive a Snapshot after every change, in
// version order. fn runs on the goroutine that made the change and must not
// call Send or Cancel. The returned function removes the registration.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []Message {
	return c.Snapshot().Messages
}

// Err returns the error slot.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Loading reports whether a request is in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Send submits query. It returns once the user and assistant messages are
// in the conversation; the reply streams in the background.
func (c *Controller) Send(query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		return
	}

	current := c.settings.Read()
	if !current.IsConfigured() {
		c.logger.Info("send rejected, settings incomplete")
		c.mu.Lock()
		c.err = ErrConfigurationMissing
		c.version++
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.publish(snap)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	assistantID := newMessageID("a")

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.logger.Info("previous request superseded", "generation", c.gen)
	}
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.err = nil
	c.loading = true
	c.messages = append(c.messages,
		Message{ID: newMessageID("u"), Role: RoleUser, Content: query},
		Message{ID: assistantID, Role: RoleAssistant},
	)
	c.version++
	snap := c.snapshotLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.publish(snap)
	c.metrics.sends.Add(ctx, 1)

	go c.run(ctx, cancel, gen, assistantID, query, current)
}

// Cancel abandons the in-flight request, if any. The assistant message
// keeps whatever text it had, no error is reported, and loading is cleared.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.cancel = nil
	c.gen++
	c.loading = false
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("request cancelled")
	c.publish(snap)
}

// Wait blocks until every request goroutine has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels the in-flight request and waits for it to unwind.
func (c *Controller) Close() {
	c.Cancel()
	c.Wait()
}

// =============================================================================
// REQUEST LOOP
// =============================================================================

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, gen uint64, assistantID, query string, s settings.Settings) {
	defer c.wg.Done()
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "chat.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("chat.generation", int64(gen)),
			attribute.Int("chat.query_length", len(query)),
		))
	defer span.End()

	logger := c.logger.With("generation", gen)
	start := time.Now()

	body, err := c.transport.Run(ctx, workflow.RunRequest{
		BaseURL: s.BaseURL,
		APIKey:  s.APIKey,
		Query:   query,
		User:    c.identity.ClientID(),
	})
	if err != nil {
		c.fail(ctx, span, logger, gen, assistantID, err)
		c.finish(gen)
		return
	}
	defer body.Close()

	var (
		accumulated string
		deltas      int
		skipped     int
	)
	sc := stream.NewScanner(ctx, body)
	for sc.Next() {
		rec, err := event.Reconcile([]byte(sc.Payload()), accumulated)
		if err != nil {
			skipped++
			c.metrics.skipped.Add(ctx, 1)
			logger.Debug("skipping stream record", "error", err)
			continue
		}

		switch rec.Kind {
		case event.KindDelta:
			if deltas == 0 {
				ms := float64(time.Since(start).Microseconds()) / 1000
				c.metrics.firstDelta.Record(ctx, ms)
				span.SetAttributes(attribute.Float64("chat.first_delta_ms", ms))
			}
			deltas++
			accumulated += rec.Text
			text := accumulated
			if c.apply(gen, func() { c.setContentLocked(assistantID, text) }) {
				c.metrics.deltas.Add(ctx, 1)
			}

		case event.KindError:
			logger.Warn("server reported an error in the stream", "message", rec.Text)
			span.RecordError(&StreamError{Message: rec.Text})
			c.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "stream")))
			msg := rec.Text
			c.apply(gen, func() {
				c.setContentLocked(assistantID, NoticeStreamError)
				c.err = &StreamError{Message: msg}
			})

		default:
			logger.Debug("stream record ignored", "kind", rec.Kind.String())
		}
	}

	if err := sc.Err(); err != nil {
		c.fail(ctx, span, logger, gen, assistantID, err)
		c.finish(gen)
		return
	}

	span.SetAttributes(
		attribute.Int("chat.deltas", deltas),
		attribute.Int("chat.skipped_records", skipped),
		attribute.Int("chat.reply_length", len(accumulated)),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("reply complete",
		"deltas", deltas,
		"skipped", skipped,
		"duration", time.Since(start))
	c.finish(gen)
}

// fail maps a transport or read error onto the conversation. A done
// context means the request was superseded or cancelled and is ignored.
func (c *Controller) fail(ctx context.Context, span trace.Span, logger *slog.Logger, gen uint64, assistantID string, err error) {
	if ctx.Err() != nil {
		span.SetStatus(codes.Unset, "cancelled")
		logger.Debug("request ended by cancellation")
		return
	}

	var (
		notice  string
		slotErr error
		kind    string
		reqErr  *workflow.RequestError
	)
	switch {
	case errors.Is(err, workflow.ErrUnauthorized):
		notice, slotErr, kind = NoticeUnauthorized, workflow.ErrUnauthorized, "unauthorized"
	case errors.As(err, &reqErr):
		notice, slotErr, kind = NoticeRequestFailed, reqErr, "request"
		span.SetAttributes(attribute.Int("http.response.status_code", reqErr.Status))
	default:
		notice, slotErr, kind = NoticeNetworkError, &NetworkError{Err: err}, "network"
	}

	logger.Warn("send failed", "kind", kind, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, slotErr.Error())
	c.metrics.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))

	c.apply(gen, func() {
		c.setContentLocked(assistantID, notice)
		c.err = slotErr
	})
}

// finish clears loading if gen is still the current request.
func (c *Controller) finish(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.loading = false
	c.cancel = nil
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// apply runs fn under the lock if gen is still current and publishes the
// result. It reports whether fn ran.
func (c *Controller) apply(gen uint64, fn func()) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	fn()
	c.version++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
	return true
}

// setContentLocked must be called with c.mu held.
func (c *Controller) setContentLocked(id, content string) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Content = content
			return
		}
	}
}

// snapshotLocked must be called with c.mu held.
func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		Version:  c.version,
		Messages: msgs,
		Err:      c.err,
		Loading:  c.loading,
	}
}

// publish delivers snap to observers unless a newer snapshot already went out.
func (c *Controller) publish(snap Snapshot) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snap.Version <= c.delivered {
		return
	}
	c.delivered = snap.Version

	c.obsMu.Lock()
	observers := make([]func(Snapshot), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
