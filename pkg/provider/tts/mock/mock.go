// Package mock provides a mock TTS provider for testing.
//
// The mock lets tests script audio chunks per opened context, force context
// limit refusals, and inspect the text that was sent for synthesis.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/voxkit/voxgate/pkg/provider/tts"
	"github.com/voxkit/voxgate/pkg/types"
)

// Provider implements tts.Provider for testing.
type Provider struct {
	mu sync.Mutex

	// OpenErrs is consumed one per OpenContext call; a nil entry means the
	// call succeeds. Once exhausted, calls succeed. Use tts.ErrContextLimit to
	// script a context-limit refusal.
	OpenErrs []error

	// AutoFinish, when true, makes each context emit one audio chunk plus a
	// final marker as soon as text with end=true is sent.
	AutoFinish bool

	// GenerateURL is returned from Generate. Defaults to a placeholder URL.
	GenerateURL string

	// GenerateErr, if non-nil, is returned from Generate.
	GenerateErr error

	contexts      map[string]*Context
	opened        []*Context
	generateCalls []string
	closeAllCalls int
	seq           int
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new mock TTS Provider.
func New() *Provider {
	return &Provider{contexts: make(map[string]*Context)}
}

// OpenContext opens a scripted mock context.
func (p *Provider) OpenContext(_ context.Context, voice types.VoiceProfile) (tts.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.OpenErrs) > 0 {
		err := p.OpenErrs[0]
		p.OpenErrs = p.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	p.seq++
	c := &Context{
		provider:   p,
		id:         fmt.Sprintf("mock_context_%d", p.seq),
		voice:      voice,
		chunks:     make(chan types.AudioChunk, 16),
		autoFinish: p.AutoFinish,
	}
	p.contexts[c.id] = c
	p.opened = append(p.opened, c)
	return c, nil
}

// ActiveContexts returns the IDs of open contexts.
func (p *Provider) ActiveContexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.contexts))
	for id := range p.contexts {
		ids = append(ids, id)
	}
	return ids
}

// CloseAll closes every open context.
func (p *Provider) CloseAll(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAllCalls++
	for id, c := range p.contexts {
		c.closeChunks()
		delete(p.contexts, id)
	}
	return nil
}

// CloseAllCalls returns how many times CloseAll was invoked.
func (p *Provider) CloseAllCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeAllCalls
}

// Generate records the text and returns the scripted URL.
func (p *Provider) Generate(_ context.Context, text string, _ types.VoiceProfile) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generateCalls = append(p.generateCalls, text)
	if p.GenerateErr != nil {
		return "", p.GenerateErr
	}
	if p.GenerateURL != "" {
		return p.GenerateURL, nil
	}
	return "https://mock.example/audio.wav", nil
}

// GenerateCalls returns the texts passed to Generate.
func (p *Provider) GenerateCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.generateCalls))
	copy(out, p.generateCalls)
	return out
}

// Opened returns every context opened so far, in order.
func (p *Provider) Opened() []*Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Context, len(p.opened))
	copy(out, p.opened)
	return out
}

func (p *Provider) drop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.contexts[id]; ok {
		c.closeChunks()
		delete(p.contexts, id)
	}
}

// Context is a scripted mock synthesis context.
type Context struct {
	provider   *Provider
	id         string
	voice      types.VoiceProfile
	autoFinish bool

	mu     sync.Mutex
	sent   []string
	ended  bool
	closed bool
	chunks chan types.AudioChunk

	chunkOnce sync.Once
}

var _ tts.Context = (*Context)(nil)

// ID returns the mock context identifier.
func (c *Context) ID() string { return c.id }

// Voice returns the profile the context was opened with.
func (c *Context) Voice() types.VoiceProfile { return c.voice }

// Send records the text. With AutoFinish set on the provider, end=true
// triggers one audio chunk followed by a final marker.
func (c *Context) Send(_ context.Context, text string, end bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("mock: context is closed")
	}
	c.sent = append(c.sent, text)
	if end {
		c.ended = true
	}
	auto := c.autoFinish && end
	c.mu.Unlock()

	if auto {
		c.Emit(types.AudioChunk{Audio: "bW9jaw==", ContextID: c.id, Final: true})
	}
	return nil
}

// Chunks returns the audio chunk channel.
func (c *Context) Chunks() <-chan types.AudioChunk { return c.chunks }

// Close marks the context closed and unregisters it from the provider.
func (c *Context) Close(_ context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.provider.drop(c.id)
	return nil
}

// Emit delivers an audio chunk to the consumer. A Final chunk also closes the
// channel and unregisters the context, matching real provider behavior.
func (c *Context) Emit(chunk types.AudioChunk) {
	if chunk.ContextID == "" {
		chunk.ContextID = c.id
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.chunks <- chunk:
	default:
	}
	if chunk.Final {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.provider.drop(c.id)
	}
}

// SentText returns all text fragments passed to Send.
func (c *Context) SentText() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// Ended reports whether Send was called with end=true.
func (c *Context) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Closed reports whether the context is closed.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) closeChunks() {
	c.chunkOnce.Do(func() { close(c.chunks) })
}
