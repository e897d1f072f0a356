package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voxkit/voxgate/internal/history"
	"github.com/voxkit/voxgate/internal/observe"
	"github.com/voxkit/voxgate/internal/websearch"
	"github.com/voxkit/voxgate/pkg/provider/llm"
	"github.com/voxkit/voxgate/pkg/provider/stt"
	"github.com/voxkit/voxgate/pkg/provider/tts"
	"github.com/voxkit/voxgate/pkg/types"
)

// APIKeys carries the provider credentials a client supplies at runtime.
type APIKeys struct {
	Gemini      string `json:"gemini"`
	AssemblyAI  string `json:"assemblyai"`
	Murf        string `json:"murf"`
	Tavily      string `json:"tavily"`
	MurfVoiceID string `json:"murf_voice_id"`
}

// Providers bundles the upstream adapters the orchestrator drives. Any field
// may be nil when the corresponding key is missing; processing degrades
// accordingly.
type Providers struct {
	STT    stt.Provider
	LLM    llm.Provider
	TTS    tts.Provider
	Search *websearch.Client
	Voice  types.VoiceProfile
}

// ProviderFactory builds a fresh provider set from runtime keys. Used at
// startup and again on api_keys_update.
type ProviderFactory func(keys APIKeys) (*Providers, error)

// Control is a client control message applied to a session.
type Control struct {
	// Type is one of "session_id", "persona_update", "web_search_update",
	// "web_search_toggle", "api_keys_update".
	Type string

	Persona          string
	WebSearchEnabled *bool
	APIKeys          *APIKeys
}

// Orchestrator owns the session table and drives the per-session pipeline.
// One Orchestrator instance serves the whole process; sessions run in
// parallel, each on its own worker goroutine.
type Orchestrator struct {
	cfg      Config
	sender   Sender
	store    history.Store
	metrics  *observe.Metrics
	logger   *slog.Logger
	personas *PersonaRegistry
	factory  ProviderFactory

	provMu    sync.RWMutex
	providers *Providers

	mu       sync.RWMutex
	sessions map[string]*Session

	baseCtx context.Context
}

// NewOrchestrator creates an Orchestrator. baseCtx bounds all per-utterance
// work; cancelling it aborts every in-flight pipeline.
func NewOrchestrator(baseCtx context.Context, cfg Config, sender Sender, store history.Store, personas *PersonaRegistry, factory ProviderFactory, providers *Providers, metrics *observe.Metrics, logger *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if personas == nil {
		personas = NewPersonaRegistry(nil)
	}
	return &Orchestrator{
		cfg:       cfg,
		sender:    sender,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		personas:  personas,
		factory:   factory,
		providers: providers,
		sessions:  make(map[string]*Session),
		baseCtx:   baseCtx,
	}
}

// Providers returns the current provider set. May be nil before the first
// api_keys_update when none were configured at startup.
func (o *Orchestrator) Providers() *Providers {
	o.provMu.RLock()
	defer o.provMu.RUnlock()
	return o.providers
}

// Personas exposes the persona registry.
func (o *Orchestrator) Personas() *PersonaRegistry {
	return o.personas
}

// History exposes the chat history store.
func (o *Orchestrator) History() history.Store {
	return o.store
}

// Bind ensures a session exists for id and applies initial persona and
// web-search settings. Unknown persona names are ignored.
func (o *Orchestrator) Bind(id, persona string, webSearch *bool) *Session {
	s := o.getOrCreate(id)

	s.mu.Lock()
	if persona != "" && o.personas.Known(persona) {
		s.persona = persona
	}
	if webSearch != nil {
		s.webSearch = *webSearch
	}
	s.mu.Unlock()
	return s
}

// OnFinalTranscript accepts a finalized transcript for a session. It never
// blocks: the utterance is either discarded (too short or duplicate), queued,
// or handed to the session worker.
func (o *Orchestrator) OnFinalTranscript(ctx context.Context, sessionID, text string) {
	if TooShort(text) {
		return
	}
	norm := Normalize(text)
	if norm == "" {
		return
	}

	s := o.getOrCreate(sessionID)
	now := time.Now()

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}

	if reason := s.guard.Check(norm, s.processingNorm, s.queuedNormsLocked(), now); reason != "" {
		s.mu.Unlock()
		o.metrics.RecordDuplicate(ctx, string(reason))
		o.logger.Debug("duplicate utterance suppressed",
			"session_id", sessionID, "reason", string(reason), "text", text)
		return
	}

	if len(s.queue) >= o.cfg.MaxQueueDepth {
		s.mu.Unlock()
		o.logger.Warn("utterance dropped, queue full", "session_id", sessionID)
		return
	}

	utt := Utterance{
		Text:       text,
		Norm:       norm,
		Persona:    s.persona,
		WebSearch:  s.webSearch,
		CapturedAt: now,
	}
	s.queue = append(s.queue, utt)
	busy := s.processing
	position := len(s.queue)
	s.mu.Unlock()

	if busy {
		_ = o.sender.Send(ctx, sessionID, EvtQueryQueued(text, position))
	}
	s.signal()
}

// OnControl applies a client control message to the session.
func (o *Orchestrator) OnControl(ctx context.Context, sessionID string, msg Control) {
	switch msg.Type {
	case "session_id":
		o.Bind(sessionID, msg.Persona, msg.WebSearchEnabled)

	case "persona_update":
		s := o.getOrCreate(sessionID)
		s.mu.Lock()
		if o.personas.Known(msg.Persona) {
			s.persona = msg.Persona
		}
		s.mu.Unlock()

	case "web_search_update", "web_search_toggle":
		if msg.WebSearchEnabled == nil {
			return
		}
		s := o.getOrCreate(sessionID)
		s.mu.Lock()
		s.webSearch = *msg.WebSearchEnabled
		s.mu.Unlock()

	case "api_keys_update":
		if msg.APIKeys == nil {
			_ = o.sender.Send(ctx, sessionID, EvtAPIKeysUpdated(false, "no keys provided"))
			return
		}
		o.updateAPIKeys(ctx, sessionID, *msg.APIKeys)

	default:
		o.logger.Warn("unknown control message", "session_id", sessionID, "type", msg.Type)
	}
}

// updateAPIKeys re-provisions the upstream adapters. The requesting session's
// in-flight work is cancelled and its queue drained first, so no utterance
// straddles the provider swap.
func (o *Orchestrator) updateAPIKeys(ctx context.Context, sessionID string, keys APIKeys) {
	if o.factory == nil {
		_ = o.sender.Send(ctx, sessionID, EvtAPIKeysUpdated(false, "runtime key updates are not supported"))
		return
	}

	s := o.getOrCreate(sessionID)
	s.mu.Lock()
	cancel := s.cancel
	s.queue = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	fresh, err := o.factory(keys)
	if err != nil {
		o.logger.Error("provider re-provisioning failed", "session_id", sessionID, "error", err)
		_ = o.sender.Send(ctx, sessionID, EvtAPIKeysUpdated(false, err.Error()))
		return
	}

	o.provMu.Lock()
	old := o.providers
	o.providers = fresh
	o.provMu.Unlock()

	if old != nil && old.TTS != nil {
		if err := old.TTS.CloseAll(ctx); err != nil {
			o.logger.Warn("closing contexts of replaced TTS provider", "error", err)
		}
	}

	o.logger.Info("providers re-provisioned", "session_id", sessionID)
	_ = o.sender.Send(ctx, sessionID, EvtAPIKeysUpdated(true, ""))
}

// CancelInFlight aborts the session's current utterance, if any. Used on
// session rebinds; the queue is left untouched.
func (o *Orchestrator) CancelInFlight(sessionID string) {
	o.mu.RLock()
	s, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// OnDisconnect releases a session: cancels in-flight work, drains the queue
// without processing, and removes the session from the table. Safe to call
// concurrently and repeatedly; only the first call releases state.
func (o *Orchestrator) OnDisconnect(sessionID string) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	s.queue = nil
	cancel := s.cancel
	close(s.done)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	o.metrics.ActiveSessions.Add(o.baseCtx, -1)
	o.logger.Info("session released", "session_id", sessionID)
}

// Sessions returns snapshots of all live sessions sorted by id.
func (o *Orchestrator) Sessions() []Snapshot {
	o.mu.RLock()
	snaps := make([]Snapshot, 0, len(o.sessions))
	for _, s := range o.sessions {
		snaps = append(snaps, s.snapshot())
	}
	o.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// getOrCreate returns the session for id, creating it (and starting its
// worker) on first reference.
func (o *Orchestrator) getOrCreate(id string) *Session {
	o.mu.RLock()
	s, ok := o.sessions[id]
	o.mu.RUnlock()
	if ok {
		return s
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok = o.sessions[id]; ok {
		return s
	}

	s = newSession(id, o.cfg.DedupWindow)
	o.sessions[id] = s
	go o.worker(s)

	o.metrics.ActiveSessions.Add(o.baseCtx, 1)
	o.logger.Info("session created", "session_id", id)
	return s
}

// worker is the session's single logical worker: it drains the queue serially
// until the session is released. Queue order is strictly FIFO; a duplicate
// discovered at dequeue time (raced enqueues) is skipped.
func (o *Orchestrator) worker(s *Session) {
	for {
		select {
		case <-s.done:
			return
		case <-o.baseCtx.Done():
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if s.released || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			utt := s.queue[0]
			s.queue = s.queue[1:]

			if reason := s.guard.Check(utt.Norm, "", s.queuedNormsLocked(), time.Now()); reason != "" {
				s.mu.Unlock()
				o.metrics.RecordDuplicate(o.baseCtx, string(reason))
				continue
			}

			now := time.Now()
			s.processing = true
			s.processingNorm = utt.Norm
			s.processingSince = now
			s.progressAt = now
			ctx, cancel := context.WithCancel(o.baseCtx)
			s.cancel = cancel
			s.mu.Unlock()

			processed := o.processUtterance(ctx, s, utt)
			cancel()

			s.mu.Lock()
			if processed {
				s.guard.MarkCompleted(utt.Norm, time.Now())
			}
			s.processing = false
			s.processingNorm = ""
			s.cancel = nil
			s.state = StateIdle
			s.phase = PhaseNone
			s.responseID = ""
			s.ttsContextID = ""
			s.mu.Unlock()
		}
	}
}

// send delivers an event, logging delivery failures at debug level. A failed
// send means the client is gone; the pipeline carries on regardless.
func (o *Orchestrator) send(ctx context.Context, sessionID string, evt Event) {
	if err := o.sender.Send(ctx, sessionID, evt); err != nil {
		o.logger.Debug("event not delivered", "session_id", sessionID, "event", evt.Type(), "error", err)
	}
}

// missingKeys lists which provider roles are unavailable.
func (o *Orchestrator) missingKeys() []string {
	p := o.Providers()
	var missing []string
	if p == nil || p.STT == nil {
		missing = append(missing, "assemblyai")
	}
	if p == nil || p.LLM == nil {
		missing = append(missing, "gemini")
	}
	if p == nil || p.TTS == nil {
		missing = append(missing, "murf")
	}
	return missing
}
