package session

import (
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

// minUtteranceChars is the minimum number of non-whitespace characters an
// utterance must carry to be considered at all. Single-character fragments
// ("a", "I") are recognizer noise; two-character words ("hi", "no") are real
// queries.
const minUtteranceChars = 2

// recentCompletedCap bounds the last-processed set tracked per session.
const recentCompletedCap = 8

// Near-duplicate filter tuning. The word-set Jaccard threshold absorbs ASR
// flutter where the recognizer re-finalizes almost the same words; the
// Jaro-Winkler threshold catches character-level stutter the token comparison
// misses.
const (
	jaccardThreshold     = 0.6
	jaroWinklerThreshold = 0.92
)

// Normalize canonicalizes an utterance for duplicate comparison: lowercase,
// non-alphanumeric characters replaced with spaces, whitespace runs collapsed,
// leading and trailing whitespace trimmed.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := true // collapses leading whitespace too
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// nonWhitespaceLen counts the characters of s that are not whitespace.
func nonWhitespaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// TooShort reports whether the utterance is below the minimum length and must
// be silently discarded.
func TooShort(text string) bool {
	return nonWhitespaceLen(text) < minUtteranceChars
}

// completedEntry is one recently finished utterance.
type completedEntry struct {
	norm       string
	finishedAt time.Time
}

// DuplicateGuard decides whether a candidate utterance is a duplicate of work
// this session has already seen. It consolidates three checks: the
// currently-processing utterance, the pending queue, and a bounded set of
// recently completed utterances inside the suppression window.
//
// DuplicateGuard is not safe for concurrent use on its own; the owning Session
// serializes access under its lock.
type DuplicateGuard struct {
	window time.Duration
	recent []completedEntry
}

// NewDuplicateGuard creates a guard with the given last-processed suppression
// window.
func NewDuplicateGuard(window time.Duration) *DuplicateGuard {
	return &DuplicateGuard{window: window}
}

// DupReason names why a candidate was rejected. The empty string means the
// candidate is not a duplicate.
type DupReason string

const (
	DupProcessing DupReason = "processing"
	DupQueued     DupReason = "queued"
	DupWindow     DupReason = "window"
)

// Check evaluates the candidate's normalized form against the
// currently-processing utterance, the queued utterances, and the recent
// completion window. now is injected for testability.
func (g *DuplicateGuard) Check(norm, processingNorm string, queuedNorms []string, now time.Time) DupReason {
	if norm != "" && norm == processingNorm {
		return DupProcessing
	}
	for _, q := range queuedNorms {
		if norm == q {
			return DupQueued
		}
	}
	for _, e := range g.recent {
		if e.norm == norm && now.Sub(e.finishedAt) < g.window {
			return DupWindow
		}
	}
	return ""
}

// MarkCompleted records that an utterance with the given normalized form just
// finished processing. The recent set is bounded; the oldest entry is evicted
// when full.
func (g *DuplicateGuard) MarkCompleted(norm string, now time.Time) {
	if norm == "" {
		return
	}
	g.recent = append(g.recent, completedEntry{norm: norm, finishedAt: now})
	if len(g.recent) > recentCompletedCap {
		g.recent = g.recent[len(g.recent)-recentCompletedCap:]
	}
}

// ---- advisory near-duplicate filter ----

// seenEntry is one recently observed final transcript.
type seenEntry struct {
	norm  string
	words map[string]struct{}
	at    time.Time
}

// NearDupFilter absorbs ASR flutter on the STT front-end: final transcripts
// that are almost identical to one seen within the window are dropped before
// they reach the orchestrator. This is advisory only; the DuplicateGuard rules
// still apply to whatever passes through.
//
// NearDupFilter is not safe for concurrent use; each connection owns one.
type NearDupFilter struct {
	window time.Duration
	seen   []seenEntry
}

// NewNearDupFilter creates a filter with the given comparison window.
func NewNearDupFilter(window time.Duration) *NearDupFilter {
	return &NearDupFilter{window: window}
}

// Observe reports whether text is a near-duplicate of a transcript seen within
// the window, and records it either way.
func (f *NearDupFilter) Observe(text string, now time.Time) bool {
	norm := Normalize(text)
	words := wordSet(norm)

	// Prune entries that fell out of the window.
	keep := f.seen[:0]
	for _, e := range f.seen {
		if now.Sub(e.at) < f.window {
			keep = append(keep, e)
		}
	}
	f.seen = keep

	dup := false
	for _, e := range f.seen {
		if jaccard(words, e.words) >= jaccardThreshold || matchr.JaroWinkler(norm, e.norm, false) >= jaroWinklerThreshold {
			dup = true
			break
		}
	}

	f.seen = append(f.seen, seenEntry{norm: norm, words: words, at: now})
	return dup
}

// wordSet splits a normalized string into its set of words.
func wordSet(norm string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		set[w] = struct{}{}
	}
	return set
}

// jaccard computes the Jaccard similarity of two word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
