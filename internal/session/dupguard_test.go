package session

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  what's   up?  ", "what s up"},
		{"HELLO", "hello"},
		{"one2three", "one2three"},
		{"!!!", ""},
		{"", ""},
		{"tabs\tand\nnewlines", "tabs and newlines"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTooShort(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"a", true},
		{" I ", true},
		{"hi", false},
		{"no", false},
		{"  h i  ", false}, // two non-whitespace characters
		{"", true},
	}
	for _, tt := range tests {
		if got := TooShort(tt.in); got != tt.want {
			t.Errorf("TooShort(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDuplicateGuardCheck(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := NewDuplicateGuard(15 * time.Second)
	g.MarkCompleted("recently done", now.Add(-5*time.Second))
	g.MarkCompleted("long ago", now.Add(-20*time.Second))

	tests := []struct {
		name       string
		norm       string
		processing string
		queued     []string
		want       DupReason
	}{
		{"matches processing", "in flight", "in flight", nil, DupProcessing},
		{"matches queued", "waiting", "", []string{"other", "waiting"}, DupQueued},
		{"inside window", "recently done", "", nil, DupWindow},
		{"outside window", "long ago", "", nil, ""},
		{"novel", "brand new", "in flight", []string{"waiting"}, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := g.Check(tt.norm, tt.processing, tt.queued, now); got != tt.want {
				t.Errorf("Check = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDuplicateGuardRecentSetBounded(t *testing.T) {
	t.Parallel()
	g := NewDuplicateGuard(time.Hour)
	now := time.Now()
	for i := 0; i < recentCompletedCap+5; i++ {
		g.MarkCompleted(string(rune('a'+i)), now)
	}
	if len(g.recent) != recentCompletedCap {
		t.Fatalf("recent set size = %d, want %d", len(g.recent), recentCompletedCap)
	}
	// The oldest entries were evicted, so they no longer suppress.
	if got := g.Check("a", "", nil, now); got != "" {
		t.Errorf("evicted entry still suppresses: %q", got)
	}
	if got := g.Check(string(rune('a'+recentCompletedCap+4)), "", nil, now); got != DupWindow {
		t.Errorf("newest entry does not suppress")
	}
}

func TestNearDupFilterObserve(t *testing.T) {
	t.Parallel()
	now := time.Now()
	f := NewNearDupFilter(8 * time.Second)

	if f.Observe("what is the weather today", now) {
		t.Fatal("first observation flagged as duplicate")
	}
	// Same word set, different punctuation: Jaccard 1.0.
	if !f.Observe("What is the weather today?", now.Add(time.Second)) {
		t.Error("exact word-set repeat not flagged")
	}
	// Mostly overlapping words.
	if !f.Observe("what is the weather like today", now.Add(2*time.Second)) {
		t.Error("high-overlap repeat not flagged")
	}
	// Unrelated question.
	if f.Observe("how do goroutines work", now.Add(3*time.Second)) {
		t.Error("unrelated utterance flagged")
	}
	// Original repeated outside the window.
	if f.Observe("what is the weather today", now.Add(20*time.Second)) {
		t.Error("repeat outside window flagged")
	}
}

func TestNearDupFilterCatchesCharacterStutter(t *testing.T) {
	t.Parallel()
	now := time.Now()
	f := NewNearDupFilter(8 * time.Second)

	f.Observe("kubernetes", now)
	// The token sets share nothing, but the strings are nearly identical
	// character-wise.
	if !f.Observe("kubernetess", now.Add(time.Second)) {
		t.Error("character-level stutter not flagged")
	}
}

func TestJaccard(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b string
		want float64
	}{
		{"a b c", "a b c", 1},
		{"a b c d", "a b e f", 1.0 / 3.0},
		{"a b", "c d", 0},
		{"", "", 1},
		{"a", "", 0},
	}
	for _, tt := range tests {
		got := jaccard(wordSet(tt.a), wordSet(tt.b))
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("jaccard(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
