package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/huddle-server/internal/store"
)

func TestStoreOrdersByCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	_ = s.SaveMessage(ctx, &store.Message{Sender: "b", Kind: store.KindText, Content: "late", CreatedAt: now.Add(time.Minute)})
	_ = s.SaveMessage(ctx, &store.Message{Sender: "a", Kind: store.KindText, Content: "early", CreatedAt: now})

	got, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Content != "early" || got[1].Content != "late" {
		t.Fatalf("unexpected order: %+v", got)
	}

	// Mutating the returned record must not touch the stored one.
	got[0].Content = "changed"
	again, _ := s.ListMessages(ctx)
	if again[0].Content != "early" {
		t.Fatalf("store leaked internal state")
	}
}

func TestStoreDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	msg := &store.Message{Sender: "a", Kind: store.KindText, Content: "x"}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteMessage(ctx, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}
}
