// Package mock provides a mock STT provider for testing.
//
// The mock lets tests script partial and final transcripts and inspect the
// audio that was sent, without a live provider connection.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/voxkit/voxgate/pkg/provider/stt"
	"github.com/voxkit/voxgate/pkg/types"
)

// Provider implements stt.Provider for testing.
type Provider struct {
	mu       sync.Mutex
	sessions []*Session

	// StartErr, if non-nil, is returned from StartStream.
	StartErr error
}

// New creates a new mock STT Provider.
func New() *Provider {
	return &Provider{}
}

// StartStream opens a new mock session.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	s := &Session{
		Config:   cfg,
		partials: make(chan types.Transcript, 16),
		finals:   make(chan types.Transcript, 16),
		done:     make(chan struct{}),
	}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns all sessions opened so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Session is a scripted mock STT session.
type Session struct {
	// Config is the StreamConfig the session was opened with.
	Config stt.StreamConfig

	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	partials chan types.Transcript
	finals   chan types.Transcript
	done     chan struct{}
}

var _ stt.SessionHandle = (*Session)(nil)

// SendAudio records the audio chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// Partials returns the partial transcript channel.
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// Close marks the session closed and closes both transcript channels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.partials)
	close(s.finals)
	return nil
}

// EmitPartial delivers a partial transcript to the session's consumer.
func (s *Session) EmitPartial(t types.Transcript) {
	t.IsFinal = false
	select {
	case s.partials <- t:
	case <-s.done:
	}
}

// EmitFinal delivers a final transcript to the session's consumer.
func (s *Session) EmitFinal(t types.Transcript) {
	t.IsFinal = true
	select {
	case s.finals <- t:
	case <-s.done:
	}
}

// SentAudio returns all audio chunks the session received.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
