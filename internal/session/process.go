package session

import (
	"context"
	"errors"
	"time"

	"github.com/voxkit/voxgate/internal/websearch"
	"github.com/voxkit/voxgate/pkg/provider/llm"
	"github.com/voxkit/voxgate/pkg/provider/tts"
	"github.com/voxkit/voxgate/pkg/types"
)

// processUtterance runs the full pipeline for one dequeued utterance: gather
// context, stream the LLM response, persist it, synthesize audio, and emit the
// terminal events. Exactly one of the terminal outcomes happens: the response
// is spoken once (streamed or fallback) or cleaned up without audio.
//
// The return value reports whether processing actually started. An utterance
// bounced for missing API keys never ran, so it must not arm the resubmission
// window; the caller skips MarkCompleted for it.
func (o *Orchestrator) processUtterance(ctx context.Context, s *Session, utt Utterance) bool {
	started := time.Now()
	defer func() {
		o.metrics.PipelineDuration.Record(o.baseCtx, time.Since(started).Seconds())
	}()

	providers := o.Providers()
	if missing := o.missingKeys(); len(missing) > 0 {
		s.setState(StateCleaning)
		o.send(ctx, s.ID, EvtAPIKeysRequired(missing))
		return false
	}

	o.metrics.Utterances.Add(ctx, 1)
	s.setState(StatePreparing)
	s.advancePhase(PhaseLLMOnly)

	rsp := &response{id: newResponseID(s.ID, utt.Text, utt.CapturedAt)}
	s.mu.Lock()
	s.responseID = rsp.id
	s.mu.Unlock()

	// Always drop the buffer on the way out; it must not leak into the next
	// utterance.
	defer func() {
		rsp.clear()
		s.advancePhase(PhaseCleared)
	}()

	webResults := o.searchWeb(ctx, s, utt, providers.Search)

	hist, err := o.store.Messages(ctx, s.ID, o.cfg.ContextMessages)
	if err != nil {
		o.logger.Warn("loading history", "session_id", s.ID, "error", err)
	}
	if err := o.store.Append(ctx, s.ID, types.Message{
		Role:      "user",
		Content:   utt.Text,
		Timestamp: utt.CapturedAt,
	}); err != nil {
		o.logger.Warn("persisting user message", "session_id", s.ID, "error", err)
	}

	prompt := BuildSystemPrompt(o.personas.Prompt(utt.Persona), hist, webResults)

	s.setState(StateLLMStreaming)
	o.send(ctx, s.ID, EvtLLMStreamingStart(rsp.id))

	if !o.streamLLM(ctx, s, utt, prompt, providers.LLM, rsp) {
		s.setState(StateCleaning)
		return true
	}

	text := rsp.text()
	if err := o.store.Append(ctx, s.ID, types.Message{
		Role:      "assistant",
		Content:   text,
		Timestamp: time.Now(),
	}); err != nil {
		o.logger.Warn("persisting assistant message", "session_id", s.ID, "error", err)
	}
	o.send(ctx, s.ID, EvtResponseSaved(rsp.id))

	audioChunks, audioBytes := 0, 0
	if s.audioAllowed() {
		audioChunks, audioBytes = o.streamTTS(ctx, s, text, providers)
	}

	if ctx.Err() != nil {
		s.setState(StateCleaning)
		return true
	}

	s.setState(StateFinalizing)
	o.send(ctx, s.ID, EvtLLMStreamingComplete(text, rsp.id, audioChunks, audioBytes))
	o.send(ctx, s.ID, EvtSessionReset())
	return true
}

// searchWeb runs an optional web search for the utterance and returns the
// formatted prompt block. Failures are reported to the client and otherwise
// ignored; the pipeline proceeds without search context.
func (o *Orchestrator) searchWeb(ctx context.Context, s *Session, utt Utterance, client *websearch.Client) string {
	if !utt.WebSearch || client == nil {
		return ""
	}

	o.send(ctx, s.ID, EvtWebSearchStart(utt.Text))
	results, err := client.Search(ctx, utt.Text, 0)
	if err != nil {
		o.logger.Warn("web search failed", "session_id", s.ID, "error", err)
		o.metrics.RecordProviderError(ctx, "tavily", "search")
		o.send(ctx, s.ID, EvtWebSearchError(err.Error()))
		return ""
	}

	o.metrics.RecordProviderRequest(ctx, "tavily", "search", "ok")
	o.send(ctx, s.ID, EvtWebSearchComplete(len(results)))
	s.touchProgress()
	return websearch.FormatForPrompt(results, true)
}

// streamLLM drains the completion stream into the response buffer, forwarding
// each fragment to the client. Returns false when the stream failed before
// producing any text (nothing to speak, cleanup instead); a mid-stream error
// after partial text lets the pipeline continue with what arrived.
func (o *Orchestrator) streamLLM(ctx context.Context, s *Session, utt Utterance, prompt string, provider llm.Provider, rsp *response) bool {
	started := time.Now()

	chunks, err := provider.StreamCompletion(ctx, llm.CompletionRequest{
		Messages: []types.Message{{
			Role:      "user",
			Content:   utt.Text,
			Timestamp: utt.CapturedAt,
		}},
		SystemPrompt: prompt,
		Temperature:  0.7,
	})
	if err != nil {
		o.metrics.RecordProviderError(ctx, "llm", "stream")
		o.send(ctx, s.ID, EvtLLMStreamingError(err.Error()))
		return false
	}

	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			o.metrics.RecordProviderError(ctx, "llm", "stream")
			if rsp.text() == "" {
				o.send(ctx, s.ID, EvtLLMStreamingError(chunk.Text))
				return false
			}
			// Partial response: keep what arrived and speak it.
			o.logger.Warn("LLM stream failed mid-response, continuing with partial text",
				"session_id", s.ID, "accumulated", len(rsp.text()), "error", chunk.Text)
			break
		}
		if chunk.Text == "" {
			continue
		}
		rsp.append(chunk.Text)
		s.touchProgress()
		o.send(ctx, s.ID, EvtLLMStreamingChunk(chunk.Text, len(rsp.text())))
	}

	if ctx.Err() != nil {
		return false
	}
	if rsp.text() == "" {
		o.send(ctx, s.ID, EvtLLMStreamingError("empty response from model"))
		return false
	}

	o.metrics.LLMDuration.Record(o.baseCtx, time.Since(started).Seconds())
	o.metrics.RecordProviderRequest(ctx, "llm", "stream", "ok")
	return true
}

// streamTTS synthesizes text through a streaming context and forwards the
// audio to the client. Returns the chunk count and total byte size delivered.
//
// On repeated receive timeouts or a wall-clock overrun it falls back to the
// one-shot HTTP synthesis — at most once, and only while audio is still
// allowed for this response.
func (o *Orchestrator) streamTTS(ctx context.Context, s *Session, text string, providers *Providers) (int, int) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.WallClockTimeout)
	defer cancel()

	sc, err := o.openTTSContext(ctx, providers)
	if err != nil {
		o.logger.Error("opening TTS context", "session_id", s.ID, "error", err)
		o.metrics.RecordProviderError(ctx, "tts", "open_context")
		o.fallbackTTS(ctx, s, text, providers, "stream_error")
		return 0, 0
	}
	o.metrics.ActiveTTSContexts.Add(o.baseCtx, 1)
	defer func() {
		// Close with a fresh context: the streaming ctx may already be done.
		closeCtx, closeCancel := context.WithTimeout(o.baseCtx, 5*time.Second)
		if err := sc.Close(closeCtx); err != nil {
			o.logger.Debug("closing TTS context", "session_id", s.ID, "error", err)
		}
		closeCancel()
		o.metrics.ActiveTTSContexts.Add(o.baseCtx, -1)
	}()

	s.mu.Lock()
	s.ttsContextID = sc.ID()
	s.mu.Unlock()
	s.setState(StateTTSStreaming)
	s.advancePhase(PhaseTTSActive)
	o.send(ctx, s.ID, EvtTTSStreamingStart(sc.ID()))

	if err := sc.Send(ctx, text, true); err != nil {
		o.logger.Error("sending text for synthesis", "session_id", s.ID, "error", err)
		o.metrics.RecordProviderError(ctx, "tts", "send")
		o.fallbackTTS(ctx, s, text, providers, "stream_error")
		return 0, 0
	}

	chunkCount, totalBytes := 0, 0
	timeouts := 0
	timer := time.NewTimer(o.cfg.TTSReceiveTimeout)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-sc.Chunks():
			if !ok {
				// Stream ended without a final marker. Treat as stream error.
				o.metrics.RecordProviderError(ctx, "tts", "stream")
				o.fallbackTTS(ctx, s, text, providers, "stream_error")
				return chunkCount, totalBytes
			}
			if chunk.Audio != "" || chunk.Final {
				if chunk.Audio != "" {
					chunkCount++
					totalBytes += len(chunk.Audio)
				}
				s.touchProgress()
				o.send(ctx, s.ID, EvtTTSAudioChunk(chunk.Audio, chunkCount, len(chunk.Audio), totalBytes, chunk.Final))
			}
			if chunk.Final {
				s.advancePhase(PhasePlayed)
				o.metrics.TTSDuration.Record(o.baseCtx, time.Since(started).Seconds())
				o.metrics.RecordProviderRequest(ctx, "tts", "stream", "ok")
				return chunkCount, totalBytes
			}
			timeouts = 0
			resetTimer(timer, o.cfg.TTSReceiveTimeout)

		case <-timer.C:
			timeouts++
			if timeouts <= o.cfg.MaxTTSTimeouts {
				o.logger.Warn("TTS receive timeout", "session_id", s.ID,
					"timeout_count", timeouts, "max_timeouts", o.cfg.MaxTTSTimeouts)
				o.send(ctx, s.ID, EvtTTSTimeoutWarning(timeouts, o.cfg.MaxTTSTimeouts))
				resetTimer(timer, o.cfg.TTSReceiveTimeout)
				continue
			}
			o.send(ctx, s.ID, EvtTTSStreamingTimeout())
			o.fallbackTTS(ctx, s, text, providers, "timeout")
			return chunkCount, totalBytes

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// ctx is spent; deliver the wrap-up over the base context.
				o.send(o.baseCtx, s.ID, EvtTTSStreamingTimeout())
				o.fallbackTTS(o.baseCtx, s, text, providers, "wall_clock")
				return chunkCount, totalBytes
			}
			// Cancellation: disconnect, rebind, or sweeper. Stop playback and
			// clean up; no fallback may run.
			o.send(o.baseCtx, s.ID, EvtAudioStop())
			s.setState(StateCleaning)
			return chunkCount, totalBytes
		}
	}
}

// openTTSContext opens a synthesis context, pre-emptively closing all contexts
// when the local count is at or past the budget. The provider itself retries
// once on the upstream limit; a second limit error here is terminal.
func (o *Orchestrator) openTTSContext(ctx context.Context, providers *Providers) (tts.Context, error) {
	if len(providers.TTS.ActiveContexts()) >= o.cfg.MaxTTSContexts {
		o.logger.Info("TTS context budget reached, closing all contexts")
		if err := providers.TTS.CloseAll(ctx); err != nil {
			o.logger.Warn("closing TTS contexts", "error", err)
		}
	}
	return providers.TTS.OpenContext(ctx, providers.Voice)
}

// fallbackTTS performs the one-shot HTTP synthesis after streaming failed.
// Runs at most once per response, and never after audio was already played:
// the phase check is what keeps the answer from being spoken twice.
func (o *Orchestrator) fallbackTTS(ctx context.Context, s *Session, text string, providers *Providers, cause string) {
	if !s.audioAllowed() {
		return
	}
	// Audio is now settled for this response whatever the fallback yields.
	s.advancePhase(PhasePlayed)
	o.metrics.RecordFallback(ctx, cause)

	fbCtx, cancel := context.WithTimeout(o.baseCtx, 15*time.Second)
	defer cancel()

	url, err := providers.TTS.Generate(fbCtx, text, providers.Voice)
	if err != nil {
		o.logger.Error("fallback synthesis failed", "session_id", s.ID, "cause", cause, "error", err)
		o.metrics.RecordProviderError(ctx, "tts", "generate")
		o.send(ctx, s.ID, EvtTTSStreamingError(err.Error()))
		return
	}

	o.metrics.RecordProviderRequest(ctx, "tts", "generate", "ok")
	o.send(ctx, s.ID, EvtTTSFallbackAudio(url))
}

// resetTimer safely re-arms a timer that may have fired.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
