package history

import (
	"context"
	"testing"
	"time"

	"github.com/voxkit/voxgate/pkg/types"
)

func msg(role, content string) types.Message {
	return types.Message{Role: role, Content: content, Timestamp: time.Now()}
}

func TestMemoryStoreAppendAndMessages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Append(ctx, "s1", msg("user", "hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "s1", msg("assistant", "hi there")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "s2", msg("user", "other session")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Messages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "hello" || got[1].Content != "hi there" {
		t.Errorf("messages out of order: %+v", got)
	}
}

func TestMemoryStoreLimitReturnsTail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	for _, c := range []string{"one", "two", "three", "four"} {
		if err := s.Append(ctx, "s1", msg("user", c)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Messages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "three" || got[1].Content != "four" {
		t.Errorf("expected the two most recent messages, got %+v", got)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Append(ctx, "s1", msg("user", "hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, err := s.Messages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty history after Clear, got %+v", got)
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"b", "a", "c"} {
		if err := s.Append(ctx, id, msg("user", "x")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Sessions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sessions[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	got, err := s.Messages(context.Background(), "nope", 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice for unknown session, got %+v", got)
	}
}
