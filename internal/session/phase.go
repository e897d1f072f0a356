package session

// PlaybackPhase tracks how far a response has progressed toward being spoken.
// Transitions are monotonic: a phase never moves backwards, which is what
// forecloses replaying audio after any error path. Any code path that would
// generate audio must first check the phase is below PhasePlayed.
type PlaybackPhase int

const (
	// PhaseNone — no response in flight.
	PhaseNone PlaybackPhase = iota

	// PhaseLLMOnly — text is streaming, no synthesis started yet.
	PhaseLLMOnly

	// PhaseTTSActive — a TTS context is open and audio is streaming.
	PhaseTTSActive

	// PhasePlayed — the final audio chunk (or fallback audio) was delivered.
	// Audio must never be generated for this response again.
	PhasePlayed

	// PhaseCleared — the response buffer has been dropped. Terminal.
	PhaseCleared
)

// String implements fmt.Stringer.
func (p PlaybackPhase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseLLMOnly:
		return "llm_only"
	case PhaseTTSActive:
		return "tts_active"
	case PhasePlayed:
		return "played"
	case PhaseCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// advance moves the phase forward to target. Attempts to move backwards are
// ignored, keeping the progression monotonic.
func (p *PlaybackPhase) advance(target PlaybackPhase) {
	if target > *p {
		*p = target
	}
}

// audioAllowed reports whether generating audio is still permitted.
func (p PlaybackPhase) audioAllowed() bool {
	return p < PhasePlayed
}

// State is the per-session processing state.
type State int

const (
	// StateIdle — no utterance is being processed.
	StateIdle State = iota

	// StatePreparing — history and web-search context are being gathered.
	StatePreparing

	// StateLLMStreaming — text chunks are streaming from the LLM.
	StateLLMStreaming

	// StateTTSStreaming — audio chunks are streaming from the TTS context.
	StateTTSStreaming

	// StateFinalizing — terminal events are being emitted.
	StateFinalizing

	// StateCleaning — an error or cancellation is being cleaned up.
	StateCleaning
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateLLMStreaming:
		return "llm_streaming"
	case StateTTSStreaming:
		return "tts_streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCleaning:
		return "cleaning"
	default:
		return "unknown"
	}
}
