// Package types defines the shared types used across all VoxGate packages.
//
// These types form the lingua franca between the provider adapters, the
// session orchestrator, and the gateway. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// CapturedAt is the wall-clock time the transcript was received.
	CapturedAt time.Time
}

// Message represents a single message in a chat history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Timestamp is when this message was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "en-US-amara").
	ID string

	// Style is the speaking style (e.g., "Conversational").
	Style string

	// Rate adjusts speaking rate (-50 to +50, 0 = default).
	Rate int

	// Pitch adjusts pitch (-50 to +50, 0 = default).
	Pitch int

	// Variation controls prosody variation (provider-specific scale).
	Variation int
}

// AudioChunk is a single synthesized audio fragment emitted by a TTS context.
// Audio is carried base64-encoded exactly as received from the upstream, so
// the gateway can forward it to the client without re-encoding.
type AudioChunk struct {
	// Audio is the base64-encoded audio payload. May be empty on a bare final
	// marker.
	Audio string

	// ContextID identifies the TTS context this chunk belongs to.
	ContextID string

	// Final marks the last chunk of a synthesis request.
	Final bool
}
