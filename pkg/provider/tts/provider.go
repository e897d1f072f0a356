// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a streaming synthesis service (e.g., Murf) and exposes
// a context-based interface: the caller opens a named synthesis context, sends
// text into it, and receives base64 audio chunks back. Contexts are a scarce
// upstream resource — providers enforce an active-context budget and surface
// ErrContextLimit when it is exhausted, so the orchestrator can close stale
// contexts and retry.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/voxkit/voxgate/pkg/types"
)

// ErrContextLimit is returned by OpenContext when the upstream service refuses
// a new synthesis context because too many are already active. Callers should
// close existing contexts (see Provider.CloseAll) and retry once.
var ErrContextLimit = errors.New("tts: active context limit exceeded")

// Context is an open synthesis context. Text sent into the context is
// synthesized and returned as base64 audio chunks on the Chunks channel.
//
// A context is single-use from the orchestrator's perspective: send the full
// response text with end=true, drain Chunks until a Final chunk arrives, then
// Close.
type Context interface {
	// ID returns the provider-assigned (or locally generated) context
	// identifier. It tags every AudioChunk emitted for this context.
	ID() string

	// Send delivers a text fragment for synthesis. end marks the fragment as
	// the last one; the provider then flushes and emits a Final chunk when
	// synthesis completes.
	Send(ctx context.Context, text string, end bool) error

	// Chunks returns a read-only channel emitting synthesized audio. The
	// channel is closed after the Final chunk is delivered or when the
	// context is closed.
	Chunks() <-chan types.AudioChunk

	// Close releases the context upstream. Safe to call more than once.
	Close(ctx context.Context) error
}

// Provider is the abstraction over any streaming TTS backend.
type Provider interface {
	// OpenContext opens a new synthesis context configured with the given
	// voice. Returns ErrContextLimit (possibly wrapped) when the upstream
	// active-context budget is exhausted.
	OpenContext(ctx context.Context, voice types.VoiceProfile) (Context, error)

	// ActiveContexts returns the IDs of all currently open contexts.
	ActiveContexts() []string

	// CloseAll closes every open context. Used to recover from
	// ErrContextLimit and during shutdown.
	CloseAll(ctx context.Context) error

	// Generate performs a one-shot, non-streaming synthesis over HTTP and
	// returns a URL to the rendered audio file. This is the fallback path
	// when streaming synthesis fails or times out.
	Generate(ctx context.Context, text string, voice types.VoiceProfile) (string, error)
}
