package core

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/huddle-server/internal/store"
	"github.com/vovakirdan/huddle-server/internal/store/memory"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustUsers waits for an online-users event listing exactly want.
func mustUsers(t *testing.T, ch <-chan *Event, want []string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	var last []string
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil || ev.Kind != EventOnlineUsers {
				continue
			}
			last = ev.Users
			if len(want) == 0 && len(ev.Users) == 0 {
				return
			}
			if reflect.DeepEqual(ev.Users, want) {
				return
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected online users %v, last seen %v", want, last)
}

// noEvent asserts that no event of kind shows up within wait.
func noEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

func startHub(t *testing.T, st store.MessageStore, opts ...Option) *hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHub(st, nil, opts...).(*hub)
	go h.Run(ctx)
	return h
}

// connect registers a session with the hub and, when identity is set, binds it.
func connect(t *testing.T, h Hub, id, identity string) *Client {
	t.Helper()

	c := NewClient(id, 0)
	h.RegisterClient(c)
	mustEvent(t, c.Events, EventHistory)
	if identity != "" {
		c.Commands <- &Command{Kind: CommandRegister, Identity: identity}
		ev := mustEvent(t, c.Events, EventRegistered)
		if ev.User != identity {
			t.Fatalf("registered as %q, want %q", ev.User, identity)
		}
	}
	return c
}

// flakyStore fails writes while failing is set.
type flakyStore struct {
	*memory.Store
	failing atomic.Bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Store: memory.New()}
}

func (s *flakyStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if s.failing.Load() {
		return errors.New("disk on fire")
	}
	return s.Store.SaveMessage(ctx, msg)
}
