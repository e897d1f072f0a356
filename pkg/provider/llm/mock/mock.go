// Package mock provides a mock LLM provider for testing.
//
// The mock lets tests script streaming chunks and non-streaming responses, and
// inspect the requests it received.
package mock

import (
	"context"
	"sync"

	"github.com/voxkit/voxgate/pkg/provider/llm"
)

// Provider implements llm.Provider for testing.
type Provider struct {
	mu sync.Mutex

	// StreamChunks is the script of chunks StreamCompletion emits per call.
	// Calls beyond the script reuse the last entry.
	StreamChunks [][]llm.Chunk

	// StreamErr, if non-nil, is returned from StreamCompletion before any
	// chunk is emitted.
	StreamErr error

	// StreamDelay, if set, is waited between chunks (interruptible by ctx).
	StreamDelay func(ctx context.Context) error

	// CompleteResponse is returned from Complete.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned from Complete.
	CompleteErr error

	streamCalls   []llm.CompletionRequest
	completeCalls []llm.CompletionRequest
	streamCount   int
}

var _ llm.Provider = (*Provider)(nil)

// New creates a mock Provider that streams the given chunks on every call.
func New(chunks ...llm.Chunk) *Provider {
	return &Provider{StreamChunks: [][]llm.Chunk{chunks}}
}

// StreamCompletion replays the scripted chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.streamCalls = append(p.streamCalls, req)
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var script []llm.Chunk
	if len(p.StreamChunks) > 0 {
		idx := p.streamCount
		if idx >= len(p.StreamChunks) {
			idx = len(p.StreamChunks) - 1
		}
		script = p.StreamChunks[idx]
	}
	p.streamCount++
	delay := p.StreamDelay
	p.mu.Unlock()

	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		for _, c := range script {
			if delay != nil {
				if err := delay(ctx); err != nil {
					return
				}
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Complete returns the scripted response.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completeCalls = append(p.completeCalls, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse != nil {
		return p.CompleteResponse, nil
	}
	return &llm.CompletionResponse{Content: "mock response"}, nil
}

// StreamCalls returns all requests passed to StreamCompletion.
func (p *Provider) StreamCalls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.streamCalls))
	copy(out, p.streamCalls)
	return out
}

// CompleteCalls returns all requests passed to Complete.
func (p *Provider) CompleteCalls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.completeCalls))
	copy(out, p.completeCalls)
	return out
}
