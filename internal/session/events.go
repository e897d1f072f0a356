package session

import (
	"context"
	"time"
)

// Sender delivers a server event to the client bound to a session. The
// connection manager implements it with a safe-send that silently drops
// events for sockets that are no longer live — the orchestrator never learns
// or cares whether the client is still there.
type Sender interface {
	Send(ctx context.Context, sessionID string, event Event) error
}

// Event is a server-emitted client frame. Every event carries "type" and
// "timestamp" plus type-specific fields.
type Event map[string]any

// Type returns the event's type field.
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// newEvent creates an event of the given type stamped with the current time.
func newEvent(typ string) Event {
	return Event{
		"type":      typ,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// EvtAudioStreamReady acknowledges that the audio ingest path is open.
func EvtAudioStreamReady() Event {
	return newEvent("audio_stream_ready")
}

// EvtAudioChunkReceived acknowledges inbound audio. Emission is throttled by
// the caller.
func EvtAudioChunkReceived(totalBytes int) Event {
	e := newEvent("audio_chunk_received")
	e["total_bytes"] = totalBytes
	return e
}

// EvtPartialTranscript carries an interim transcript for UI display.
func EvtPartialTranscript(text string) Event {
	e := newEvent("partial_transcript")
	e["text"] = text
	return e
}

// EvtFinalTranscript carries a finalized transcript.
func EvtFinalTranscript(text string) Event {
	e := newEvent("final_transcript")
	e["text"] = text
	return e
}

// EvtQueryQueued tells the client its utterance is waiting behind others.
func EvtQueryQueued(query string, position int) Event {
	e := newEvent("query_queued")
	e["query"] = query
	e["queue_position"] = position
	return e
}

// EvtWebSearchStart signals a web search is in progress for the query.
func EvtWebSearchStart(query string) Event {
	e := newEvent("web_search_start")
	e["query"] = query
	return e
}

// EvtWebSearchComplete signals search results were obtained.
func EvtWebSearchComplete(resultCount int) Event {
	e := newEvent("web_search_complete")
	e["result_count"] = resultCount
	return e
}

// EvtWebSearchError signals the search failed; processing continues without
// search context.
func EvtWebSearchError(msg string) Event {
	e := newEvent("web_search_error")
	e["error"] = msg
	return e
}

// EvtLLMStreamingStart marks the beginning of the text stream for a response.
func EvtLLMStreamingStart(responseID string) Event {
	e := newEvent("llm_streaming_start")
	e["response_id"] = responseID
	return e
}

// EvtLLMStreamingChunk carries one incremental text fragment.
func EvtLLMStreamingChunk(chunk string, accumulatedLength int) Event {
	e := newEvent("llm_streaming_chunk")
	e["chunk"] = chunk
	e["accumulated_length"] = accumulatedLength
	return e
}

// EvtLLMStreamingError signals the text stream failed before any synthesis.
func EvtLLMStreamingError(msg string) Event {
	e := newEvent("llm_streaming_error")
	e["error"] = msg
	return e
}

// EvtResponseSaved signals the assistant message was persisted to history.
func EvtResponseSaved(responseID string) Event {
	e := newEvent("response_saved")
	e["response_id"] = responseID
	return e
}

// EvtTTSStreamingStart marks the beginning of the audio stream.
func EvtTTSStreamingStart(contextID string) Event {
	e := newEvent("tts_streaming_start")
	e["context_id"] = contextID
	return e
}

// EvtTTSAudioChunk carries one base64 audio fragment. The last chunk for a
// response has is_final=true.
func EvtTTSAudioChunk(audioB64 string, chunkNumber, chunkSize, totalSize int, isFinal bool) Event {
	e := newEvent("tts_audio_chunk")
	e["audio_base64"] = audioB64
	e["chunk_number"] = chunkNumber
	e["chunk_size"] = chunkSize
	e["total_size"] = totalSize
	e["is_final"] = isFinal
	return e
}

// EvtTTSTimeoutWarning signals one receive timeout on the audio stream.
func EvtTTSTimeoutWarning(timeoutCount, maxTimeouts int) Event {
	e := newEvent("tts_timeout_warning")
	e["timeout_count"] = timeoutCount
	e["max_timeouts"] = maxTimeouts
	return e
}

// EvtTTSStreamingTimeout signals the audio stream was abandoned.
func EvtTTSStreamingTimeout() Event {
	return newEvent("tts_streaming_timeout")
}

// EvtTTSFallbackAudio carries the URL of non-streaming fallback audio.
func EvtTTSFallbackAudio(audioURL string) Event {
	e := newEvent("tts_fallback_audio")
	e["audio_url"] = audioURL
	return e
}

// EvtTTSStreamingError signals a terminal synthesis failure.
func EvtTTSStreamingError(msg string) Event {
	e := newEvent("tts_streaming_error")
	e["error"] = msg
	return e
}

// EvtLLMStreamingComplete closes out a fully processed utterance.
func EvtLLMStreamingComplete(completeResponse, responseID string, audioChunks, totalAudioSize int) Event {
	e := newEvent("llm_streaming_complete")
	e["complete_response"] = completeResponse
	e["total_length"] = len(completeResponse)
	e["audio_chunks_received"] = audioChunks
	e["total_audio_size"] = totalAudioSize
	e["response_id"] = responseID
	e["session_ready"] = true
	return e
}

// EvtAudioStop tells the client to halt playback immediately.
func EvtAudioStop() Event {
	return newEvent("audio_stop")
}

// EvtSessionReset signals the session is ready for the next utterance.
func EvtSessionReset() Event {
	return newEvent("session_reset")
}

// EvtAPIKeysRequired signals processing cannot start without provider keys.
func EvtAPIKeysRequired(missing []string) Event {
	e := newEvent("api_keys_required")
	e["missing"] = missing
	return e
}

// EvtAPIKeysUpdated acknowledges a runtime key update.
func EvtAPIKeysUpdated(success bool, msg string) Event {
	e := newEvent("api_keys_updated")
	e["success"] = success
	if msg != "" {
		e["message"] = msg
	}
	return e
}
