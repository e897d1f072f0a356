package session

import "testing"

func TestPlaybackPhaseAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	p := PhaseNone
	p.advance(PhaseTTSActive)
	if p != PhaseTTSActive {
		t.Fatalf("phase = %v after forward advance, want %v", p, PhaseTTSActive)
	}

	// Backwards moves are ignored.
	p.advance(PhaseLLMOnly)
	if p != PhaseTTSActive {
		t.Fatalf("phase = %v after backwards advance, want %v", p, PhaseTTSActive)
	}

	p.advance(PhaseCleared)
	p.advance(PhasePlayed)
	if p != PhaseCleared {
		t.Fatalf("phase = %v, terminal phase must stick", p)
	}
}

func TestAudioAllowed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		phase PlaybackPhase
		want  bool
	}{
		{PhaseNone, true},
		{PhaseLLMOnly, true},
		{PhaseTTSActive, true},
		{PhasePlayed, false},
		{PhaseCleared, false},
	}
	for _, tt := range tests {
		if got := tt.phase.audioAllowed(); got != tt.want {
			t.Errorf("audioAllowed(%v) = %v, want %v", tt.phase, got, tt.want)
		}
	}
}

func TestPhaseAndStateStrings(t *testing.T) {
	t.Parallel()

	phases := map[PlaybackPhase]string{
		PhaseNone:      "none",
		PhaseLLMOnly:   "llm_only",
		PhaseTTSActive: "tts_active",
		PhasePlayed:    "played",
		PhaseCleared:   "cleared",
	}
	for p, want := range phases {
		if got := p.String(); got != want {
			t.Errorf("PlaybackPhase(%d).String() = %q, want %q", p, got, want)
		}
	}

	states := map[State]string{
		StateIdle:         "idle",
		StatePreparing:    "preparing",
		StateLLMStreaming: "llm_streaming",
		StateTTSStreaming: "tts_streaming",
		StateFinalizing:   "finalizing",
		StateCleaning:     "cleaning",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
