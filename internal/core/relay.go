package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/metrics"
	"github.com/vovakirdan/huddle-server/internal/store"
)

// fanout is the slice of the hub the relay needs. broadcast and send must be
// called on the hub goroutine; post schedules a task there.
type fanout interface {
	broadcast(ev *Event)
	send(c *Client, ev *Event)
	post(task func())
}

// Relay persists chat messages and fans them out. Store calls run on the
// submitting session's serial queue, so one sender's messages are broadcast
// in submission order while different senders may interleave by completion.
type Relay struct {
	store   store.MessageStore
	out     fanout
	log     *zerolog.Logger
	timeout time.Duration

	maxContent          int
	requireRegistration bool

	clock func() time.Time
	last  time.Time
}

func newRelay(st store.MessageStore, out fanout, logger *zerolog.Logger, o options) *Relay {
	return &Relay{
		store:               st,
		out:                 out,
		log:                 logger,
		timeout:             o.storeTimeout,
		maxContent:          o.maxContentBytes,
		requireRegistration: o.requireRegistration,
		clock:               time.Now,
	}
}

// Submit validates msg, stamps it and queues persistence. Called on the hub goroutine.
func (r *Relay) Submit(c *Client, msg ChatMessage) {
	sender := c.identity
	if sender == "" {
		if r.requireRegistration || strings.TrimSpace(msg.Sender) == "" {
			r.out.send(c, errorEvent(ErrCodeNotRegistered, "register before sending messages"))
			return
		}
		sender = strings.TrimSpace(msg.Sender)
	}
	if msg.Kind != KindText && msg.Kind != KindFile {
		r.out.send(c, errorEvent(ErrCodeBadRequest, fmt.Sprintf("unsupported message type %q", msg.Kind)))
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		r.out.send(c, errorEvent(ErrCodeBadRequest, "content is required"))
		return
	}
	if r.maxContent > 0 && len(msg.Content) > r.maxContent {
		r.out.send(c, errorEvent(ErrCodeTooLarge, fmt.Sprintf("content exceeds %d bytes", r.maxContent)))
		return
	}

	rec := &store.Message{
		Sender:    sender,
		Kind:      string(msg.Kind),
		Content:   msg.Content,
		CreatedAt: r.timestamp(),
	}

	r.enqueue(c, func() {
		ctx, cancel := r.storeContext()
		defer cancel()

		start := time.Now()
		err := r.store.SaveMessage(ctx, rec)
		metrics.PersistDuration.WithLabelValues("save").Observe(time.Since(start).Seconds())

		r.out.post(func() {
			if err != nil {
				metrics.MessagesPersistedTotal.WithLabelValues(rec.Kind, "error").Inc()
				r.log.Error().Err(err).Str("client_id", c.ID).Str("user", sender).Msg("persist message failed, dropping")
				r.out.send(c, errorEvent(ErrCodePersistFailed, "message was not saved"))
				return
			}
			metrics.MessagesPersistedTotal.WithLabelValues(rec.Kind, "ok").Inc()
			r.out.broadcast(&Event{Kind: EventChatMessage, Message: fromRecord(rec)})
		})
	})
}

// Replay sends the full stored history to c only.
func (r *Relay) Replay(c *Client) {
	r.enqueue(c, func() {
		ctx, cancel := r.storeContext()
		defer cancel()

		messages, err := r.History(ctx)
		r.out.post(func() {
			if err != nil {
				r.log.Error().Err(err).Str("client_id", c.ID).Msg("load history failed")
				r.out.send(c, errorEvent(ErrCodeStoreError, "history unavailable"))
				return
			}
			r.out.send(c, &Event{Kind: EventHistory, Messages: messages})
		})
	})
}

// Delete removes a message by id unconditionally and broadcasts the id.
func (r *Relay) Delete(c *Client, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		r.out.send(c, errorEvent(ErrCodeBadRequest, "message id is required"))
		return
	}

	r.enqueue(c, func() {
		ctx, cancel := r.storeContext()
		defer cancel()

		err := r.remove(ctx, id)
		r.out.post(func() {
			switch {
			case errors.Is(err, ErrMessageNotFound):
				r.out.send(c, errorEvent(ErrCodeMessageNotFound, "message not found"))
			case err != nil:
				r.log.Error().Err(err).Str("message_id", id).Msg("delete message failed")
				r.out.send(c, errorEvent(ErrCodeStoreError, "message was not deleted"))
			default:
				r.out.broadcast(&Event{Kind: EventMessageDeleted, MessageID: id})
			}
		})
	})
}

// DeleteAs removes a message on behalf of requester, who must own it or be an
// admin. Runs on the caller's goroutine; the deletion is broadcast through the hub.
func (r *Relay) DeleteAs(ctx context.Context, id, requester string, role Role) error {
	rec, err := r.store.GetMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		metrics.MessagesDeletedTotal.WithLabelValues("not_found").Inc()
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}
	if role != RoleAdmin && rec.Sender != requester {
		metrics.MessagesDeletedTotal.WithLabelValues("forbidden").Inc()
		return ErrForbidden
	}

	if err := r.remove(ctx, id); err != nil {
		return err
	}
	r.out.post(func() {
		r.out.broadcast(&Event{Kind: EventMessageDeleted, MessageID: id})
	})
	return nil
}

// History returns every stored message in creation order.
func (r *Relay) History(ctx context.Context) ([]ChatMessage, error) {
	start := time.Now()
	recs, err := r.store.ListMessages(ctx)
	metrics.PersistDuration.WithLabelValues("list").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]ChatMessage, 0, len(recs))
	for _, rec := range recs {
		messages = append(messages, fromRecord(rec))
	}
	return messages, nil
}

func (r *Relay) remove(ctx context.Context, id string) error {
	start := time.Now()
	err := r.store.DeleteMessage(ctx, id)
	metrics.PersistDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.MessagesDeletedTotal.WithLabelValues("not_found").Inc()
		return ErrMessageNotFound
	case err != nil:
		metrics.MessagesDeletedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("delete message: %w", err)
	}
	metrics.MessagesDeletedTotal.WithLabelValues("ok").Inc()
	return nil
}

// enqueue runs job on the session queue. A closed queue means the session is
// gone; the job still runs so a message sent just before disconnect is kept.
func (r *Relay) enqueue(c *Client, job func()) {
	if c.queue == nil || !c.queue.push(job) {
		go job()
	}
}

func (r *Relay) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// timestamp returns a strictly increasing server time so history order is total.
func (r *Relay) timestamp() time.Time {
	now := r.clock().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Nanosecond)
	}
	r.last = now
	return now
}

func fromRecord(rec *store.Message) ChatMessage {
	return ChatMessage{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Kind:      Kind(rec.Kind),
		Content:   rec.Content,
		CreatedAt: rec.CreatedAt,
	}
}
