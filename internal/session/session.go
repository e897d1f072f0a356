// Package session implements the per-session streaming pipeline orchestrator:
// the component that multiplexes the STT, LLM, and TTS streams over a single
// client connection while guaranteeing each finalized utterance yields exactly
// one spoken response.
//
// Each session owns a single worker goroutine that drains a FIFO queue of
// utterances serially. Processing is parallel across sessions, never within
// one. Duplicate suppression, the playback state machine, TTS context
// lifecycle, timeouts, and cancellation all live here.
package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/voxkit/voxgate/pkg/types"
)

// Utterance is a finalized transcript accepted for processing. It captures the
// persona and web-search flag in effect at capture time and is immutable after
// creation.
type Utterance struct {
	Text       string
	Norm       string
	Persona    string
	WebSearch  bool
	CapturedAt time.Time
}

// Config tunes the orchestrator. Zero values are replaced by NewOrchestrator.
type Config struct {
	// DedupWindow is how long a completed utterance suppresses identical
	// re-submissions.
	DedupWindow time.Duration

	// TTSReceiveTimeout is the per-wait timeout for streaming audio.
	TTSReceiveTimeout time.Duration

	// MaxTTSTimeouts is how many receive timeouts are tolerated before the
	// stream is abandoned.
	MaxTTSTimeouts int

	// WallClockTimeout caps total synthesis time for one utterance.
	WallClockTimeout time.Duration

	// SweepInterval is how often the safety sweeper runs; it is also the
	// no-progress threshold after which a stuck session is force-reset.
	SweepInterval time.Duration

	// MaxQueueDepth caps pending utterances per session.
	MaxQueueDepth int

	// MaxTTSContexts is the active TTS context budget; nearing it triggers a
	// close-all before opening the next context.
	MaxTTSContexts int

	// ContextMessages is how many history messages feed the LLM prompt.
	ContextMessages int
}

func (c *Config) applyDefaults() {
	if c.DedupWindow == 0 {
		c.DedupWindow = 15 * time.Second
	}
	if c.TTSReceiveTimeout == 0 {
		c.TTSReceiveTimeout = 30 * time.Second
	}
	if c.MaxTTSTimeouts == 0 {
		c.MaxTTSTimeouts = 2
	}
	if c.WallClockTimeout == 0 {
		c.WallClockTimeout = 45 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.MaxQueueDepth == 0 {
		c.MaxQueueDepth = 10
	}
	if c.MaxTTSContexts == 0 {
		c.MaxTTSContexts = 3
	}
	if c.ContextMessages == 0 {
		c.ContextMessages = 10
	}
}

// Session holds all per-session state. All mutable fields are guarded by mu;
// critical sections are brief (enqueue, flag read/write). The heavy work runs
// in the session's worker goroutine outside the lock.
type Session struct {
	ID string

	mu sync.Mutex

	state State
	phase PlaybackPhase

	persona   string
	webSearch bool
	voice     types.VoiceProfile

	queue []Utterance
	guard *DuplicateGuard

	processing      bool
	processingNorm  string
	processingSince time.Time
	progressAt      time.Time

	responseID   string
	ttsContextID string
	cancel       context.CancelFunc

	// wake signals the worker that the queue may be non-empty.
	wake chan struct{}
	// done is closed exactly once on release.
	done     chan struct{}
	released bool
}

func newSession(id string, dedupWindow time.Duration) *Session {
	return &Session{
		ID:      id,
		persona: DefaultPersona,
		guard:   NewDuplicateGuard(dedupWindow),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// signal wakes the worker without blocking.
func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// setState updates the processing state under the lock.
func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// advancePhase moves the playback phase forward (never backwards).
func (s *Session) advancePhase(target PlaybackPhase) {
	s.mu.Lock()
	s.phase.advance(target)
	s.mu.Unlock()
}

// audioAllowed reports whether audio may still be generated for the current
// response.
func (s *Session) audioAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase.audioAllowed()
}

// touchProgress records forward progress so the safety sweeper leaves the
// session alone.
func (s *Session) touchProgress() {
	s.mu.Lock()
	s.progressAt = time.Now()
	s.mu.Unlock()
}

// queuedNorms returns the normalized forms of all queued utterances. Caller
// must hold s.mu.
func (s *Session) queuedNormsLocked() []string {
	norms := make([]string, len(s.queue))
	for i, u := range s.queue {
		norms[i] = u.Norm
	}
	return norms
}

// Snapshot is a read-only view of a session for the debug surface.
type Snapshot struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Phase        string `json:"phase"`
	Persona      string `json:"persona"`
	WebSearch    bool   `json:"web_search"`
	QueueDepth   int    `json:"queue_depth"`
	Processing   bool   `json:"processing"`
	ResponseID   string `json:"response_id,omitempty"`
	TTSContextID string `json:"tts_context_id,omitempty"`
}

// snapshot captures the session state under the lock.
func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.ID,
		State:        s.state.String(),
		Phase:        s.phase.String(),
		Persona:      s.persona,
		WebSearch:    s.webSearch,
		QueueDepth:   len(s.queue),
		Processing:   s.processing,
		ResponseID:   s.responseID,
		TTSContextID: s.ttsContextID,
	}
}

// newResponseID derives a unique response identifier from the session, the
// capture time, and a hash of the utterance text.
func newResponseID(sessionID, text string, at time.Time) string {
	h := fnv.New32a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s-%d-%08x", sessionID, at.UnixMilli(), h.Sum32())
}

// response is the accumulating text buffer for one utterance. It must not
// survive into the next utterance's processing.
type response struct {
	id  string
	buf strings.Builder
}

func (r *response) append(s string) {
	r.buf.WriteString(s)
}

func (r *response) text() string {
	return r.buf.String()
}

func (r *response) clear() {
	r.buf.Reset()
}
