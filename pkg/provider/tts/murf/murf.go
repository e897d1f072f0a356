// Package murf provides a Murf-backed TTS provider using the Murf streaming
// WebSocket API. It implements the tts.Provider interface.
//
// Murf multiplexes synthesis contexts over a single WebSocket connection, so
// the Provider holds one shared connection with a single reader goroutine that
// dispatches incoming frames to their owning context by context_id. Writes are
// serialized with a mutex. This keeps all socket I/O single-threaded per
// direction regardless of how many contexts are active.
package murf

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxkit/voxgate/pkg/provider/tts"
	"github.com/voxkit/voxgate/pkg/types"
)

const (
	streamEndpoint   = "wss://api.murf.ai/v1/speech/stream-input"
	generateEndpoint = "https://api.murf.ai/v1/speech/generate"

	defaultSampleRate  = 44100
	defaultMaxContexts = 3
	defaultVoiceStyle  = "Conversational"

	contextIDPrefix = "voice_agent_context_"

	// ackTimeout bounds the wait for a voice_config acknowledgment. Murf does
	// not always ack, so a timeout here is non-fatal.
	ackTimeout = 3 * time.Second

	// contextLimitMarker is the substring Murf puts in error frames when the
	// active context budget is exhausted.
	contextLimitMarker = "Exceeded Active context limit"
)

// Option is a functional option for configuring the Murf Provider.
type Option func(*Provider)

// WithSampleRate sets the output audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithMaxContexts sets the local active-context budget. When opening a new
// context would reach the budget, all existing contexts are closed first.
func WithMaxContexts(n int) Option {
	return func(p *Provider) {
		p.maxContexts = n
	}
}

// WithEndpoints overrides the streaming and generate endpoints. Used in tests
// to point the provider at a local fake.
func WithEndpoints(stream, generate string) Option {
	return func(p *Provider) {
		p.streamURL = stream
		p.generateURL = generate
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// Provider implements tts.Provider backed by the Murf streaming API.
type Provider struct {
	apiKey      string
	streamURL   string
	generateURL string
	sampleRate  int
	maxContexts int
	httpClient  *http.Client
	logger      *slog.Logger

	// mu guards conn, contexts, and pendingAck.
	mu       sync.Mutex
	conn     *websocket.Conn
	contexts map[string]*synthContext
	// pendingAck is the OpenContext call currently waiting for its
	// voice_config acknowledgment, if any.
	pendingAck *ackWaiter

	// writeMu serializes all writes to the shared connection.
	writeMu sync.Mutex
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Murf Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("murf: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		streamURL:   streamEndpoint,
		generateURL: generateEndpoint,
		sampleRate:  defaultSampleRate,
		maxContexts: defaultMaxContexts,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		contexts:    make(map[string]*synthContext),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket frame types ----

// voiceConfigFrame configures a new synthesis context.
type voiceConfigFrame struct {
	VoiceConfig voiceConfig `json:"voice_config"`
	ContextID   string      `json:"context_id"`
}

type voiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

// textFrame delivers text for synthesis. End frees the context upstream once
// synthesis finishes.
type textFrame struct {
	ContextID string `json:"context_id"`
	Text      string `json:"text"`
	End       bool   `json:"end"`
}

// clearFrame drops a context upstream.
type clearFrame struct {
	ContextID string `json:"context_id"`
	Clear     bool   `json:"clear"`
}

// serverMessage is the union of frames Murf sends back.
type serverMessage struct {
	ContextID string `json:"context_id"`
	Audio     string `json:"audio"`
	Final     bool   `json:"final"`
	Error     string `json:"error"`
}

// ackWaiter routes voice_config responses to the OpenContext call that is
// waiting for them. contextID pins the waiter to its own context so frames
// belonging to other, already-streaming contexts are never diverted.
type ackWaiter struct {
	contextID string
	ch        chan serverMessage
}

// ---- Provider methods ----

// OpenContext opens a new synthesis context with the given voice. When Murf
// reports the active-context limit, all contexts are closed and the open is
// retried once with a fresh ID; a second refusal surfaces tts.ErrContextLimit.
func (p *Provider) OpenContext(ctx context.Context, voice types.VoiceProfile) (tts.Context, error) {
	sc, err := p.openContext(ctx, voice)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, tts.ErrContextLimit) {
		return nil, err
	}

	p.logger.Warn("murf: context limit exceeded, clearing all contexts and retrying")
	if err := p.CloseAll(ctx); err != nil {
		p.logger.Warn("murf: close all contexts", "error", err)
	}
	sc, err = p.openContext(ctx, voice)
	if err != nil {
		return nil, fmt.Errorf("murf: open context after clearing: %w", err)
	}
	return sc, nil
}

func (p *Provider) openContext(ctx context.Context, voice types.VoiceProfile) (*synthContext, error) {
	if voice.ID == "" {
		return nil, errors.New("murf: voice.ID must not be empty")
	}

	p.mu.Lock()
	// Closing everything just below the budget keeps us clear of the upstream
	// limit without waiting for a refusal.
	if len(p.contexts)+1 >= p.maxContexts {
		p.closeAllLocked(ctx)
	}
	if err := p.ensureConnLocked(ctx); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("murf: connect: %w", err)
	}

	sc := &synthContext{
		provider: p,
		id:       newContextID(),
		chunks:   make(chan types.AudioChunk, 64),
	}
	p.contexts[sc.id] = sc
	ack := &ackWaiter{contextID: sc.id, ch: make(chan serverMessage, 1)}
	p.pendingAck = ack
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pendingAck == ack {
			p.pendingAck = nil
		}
		p.mu.Unlock()
	}()

	frame, _ := json.Marshal(voiceConfigFrame{
		VoiceConfig: applyVoiceDefaults(voice),
		ContextID:   sc.id,
	})
	if err := p.write(ctx, frame); err != nil {
		p.dropContext(sc.id)
		return nil, fmt.Errorf("murf: send voice config: %w", err)
	}

	// Wait briefly for an acknowledgment. Murf often stays silent until the
	// first text frame, so a timeout is not an error.
	select {
	case msg := <-ack.ch:
		if strings.Contains(msg.Error, contextLimitMarker) {
			p.dropContext(sc.id)
			return nil, tts.ErrContextLimit
		}
		if msg.Error != "" {
			p.dropContext(sc.id)
			return nil, fmt.Errorf("murf: voice config rejected: %s", msg.Error)
		}
	case <-time.After(ackTimeout):
		p.logger.Warn("murf: voice config acknowledgment timeout, continuing", "context_id", sc.id)
	case <-ctx.Done():
		p.dropContext(sc.id)
		return nil, ctx.Err()
	}

	return sc, nil
}

// ActiveContexts returns the IDs of all currently open contexts.
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
func (p *Provider) CloseAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAllLocked(ctx)
	return nil
}

func (p *Provider) closeAllLocked(ctx context.Context) {
	for id, sc := range p.contexts {
		if p.conn != nil {
			frame, _ := json.Marshal(clearFrame{ContextID: id, Clear: true})
			p.writeMu.Lock()
			_ = p.conn.Write(ctx, websocket.MessageText, frame)
			p.writeMu.Unlock()
		}
		sc.closeChunks()
		delete(p.contexts, id)
	}
}

// Shutdown closes all contexts and tears down the shared connection.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeAllLocked(ctx)
	if p.conn != nil {
		p.conn.Close(websocket.StatusNormalClosure, "shutdown")
		p.conn = nil
	}
	return nil
}

// ---- HTTP fallback ----

// generateRequest is the payload for POST /v1/speech/generate.
type generateRequest struct {
	VoiceID    string `json:"voiceId"`
	Text       string `json:"text"`
	Style      string `json:"style,omitempty"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
}

// generateResponse is the subset of the generate response we consume.
type generateResponse struct {
	AudioFile string `json:"audioFile"`
}

// Generate performs one-shot synthesis over HTTP and returns the audio file
// URL. Voice style, rate, and pitch carry over from the profile; streaming
// variation has no HTTP equivalent and is dropped.
func (p *Provider) Generate(ctx context.Context, text string, voice types.VoiceProfile) (string, error) {
	if voice.ID == "" {
		return "", errors.New("murf: voice.ID must not be empty")
	}

	body, err := json.Marshal(generateRequest{
		VoiceID:    voice.ID,
		Text:       text,
		Style:      voice.Style,
		Format:     "WAV",
		SampleRate: p.sampleRate,
	})
	if err != nil {
		return "", fmt.Errorf("murf: marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.generateURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("murf: generate request: %w", err)
	}
	req.Header.Set("api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("murf: generate HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("murf: generate: unexpected status %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", fmt.Errorf("murf: generate decode: %w", err)
	}
	if gr.AudioFile == "" {
		return "", errors.New("murf: generate returned no audio file")
	}
	return gr.AudioFile, nil
}

// ---- connection management ----

// ensureConnLocked dials the shared connection if needed and starts the reader
// goroutine. Caller must hold p.mu.
func (p *Provider) ensureConnLocked(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}

	wsURL, err := p.buildStreamURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	p.conn = conn

	go p.readLoop(conn)
	return nil
}

// buildStreamURL constructs the streaming endpoint URL with credentials and
// audio format parameters.
func (p *Provider) buildStreamURL() (string, error) {
	u, err := url.Parse(p.streamURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api-key", p.apiKey)
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channel_type", "MONO")
	q.Set("format", "WAV")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// write sends a text frame on the shared connection.
func (p *Provider) write(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("murf: not connected")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// readLoop is the single reader for the shared connection. It dispatches
// frames to their owning context by context_id. On connection failure all
// contexts are failed and the connection is reset so the next OpenContext
// re-dials.
func (p *Provider) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			p.mu.Lock()
			if p.conn == conn {
				p.conn = nil
			}
			for id, sc := range p.contexts {
				sc.closeChunks()
				delete(p.contexts, id)
			}
			p.mu.Unlock()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.logger.Warn("murf: unparseable frame", "error", err)
			continue
		}

		p.dispatch(msg)
	}
}

// dispatch routes a server message to the right consumer.
func (p *Provider) dispatch(msg serverMessage) {
	p.mu.Lock()
	ack := p.pendingAck
	sc := p.contexts[msg.ContextID]
	p.mu.Unlock()

	// Acks and errors for the context being opened go to its waiting
	// OpenContext call. Murf may omit context_id on those frames; frames
	// addressed to any other context (bare final markers included) must keep
	// flowing to their owner.
	if msg.Audio == "" && !msg.Final && ack != nil &&
		(msg.ContextID == "" || msg.ContextID == ack.contextID) {
		select {
		case ack.ch <- msg:
			return
		default:
		}
	}

	if msg.Error != "" {
		p.logger.Warn("murf: server error", "context_id", msg.ContextID, "error", msg.Error)
		if sc != nil {
			// No more audio will arrive for an errored context; closing its
			// channel lets the consumer fail over promptly.
			p.dropContext(msg.ContextID)
		}
		return
	}
	if sc == nil || msg.Audio == "" && !msg.Final {
		return
	}

	sc.deliver(types.AudioChunk{
		Audio:     msg.Audio,
		ContextID: msg.ContextID,
		Final:     msg.Final,
	})
	if msg.Final {
		p.dropContext(msg.ContextID)
	}
}

// dropContext unregisters a context and closes its chunk channel.
func (p *Provider) dropContext(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sc, ok := p.contexts[id]; ok {
		sc.closeChunks()
		delete(p.contexts, id)
	}
}

// ---- synthContext ----

// synthContext is a live Murf synthesis context. It implements tts.Context.
type synthContext struct {
	provider *Provider
	id       string
	chunks   chan types.AudioChunk

	closeOnce sync.Once
	chunkOnce sync.Once
}

var _ tts.Context = (*synthContext)(nil)

// ID returns the context identifier.
func (c *synthContext) ID() string { return c.id }

// Send delivers a text fragment for synthesis.
func (c *synthContext) Send(ctx context.Context, text string, end bool) error {
	frame, err := json.Marshal(textFrame{ContextID: c.id, Text: text, End: end})
	if err != nil {
		return fmt.Errorf("murf: marshal text frame: %w", err)
	}
	if err := c.provider.write(ctx, frame); err != nil {
		return fmt.Errorf("murf: send text: %w", err)
	}
	return nil
}

// Chunks returns the audio chunk channel.
func (c *synthContext) Chunks() <-chan types.AudioChunk { return c.chunks }

// Close clears the context upstream, best effort, and unregisters it.
func (c *synthContext) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		frame, _ := json.Marshal(clearFrame{ContextID: c.id, Clear: true})
		if err := c.provider.write(ctx, frame); err != nil {
			c.provider.logger.Warn("murf: clear context", "context_id", c.id, "error", err)
		}
		c.provider.dropContext(c.id)
	})
	return nil
}

// deliver pushes a chunk without blocking the reader forever: a consumer that
// stopped draining loses chunks rather than stalling the shared connection.
func (c *synthContext) deliver(chunk types.AudioChunk) {
	select {
	case c.chunks <- chunk:
	default:
		c.provider.logger.Warn("murf: dropping audio chunk, consumer not draining", "context_id", c.id)
	}
}

// closeChunks closes the chunk channel exactly once.
func (c *synthContext) closeChunks() {
	c.chunkOnce.Do(func() { close(c.chunks) })
}

// ---- helpers ----

// newContextID generates a fresh context identifier.
func newContextID() string {
	u := uuid.New()
	return contextIDPrefix + hex.EncodeToString(u[:])[:8]
}

// applyVoiceDefaults fills zero-valued profile fields with Murf defaults.
func applyVoiceDefaults(voice types.VoiceProfile) voiceConfig {
	vc := voiceConfig{
		VoiceID:   voice.ID,
		Style:     voice.Style,
		Rate:      voice.Rate,
		Pitch:     voice.Pitch,
		Variation: voice.Variation,
	}
	if vc.Style == "" {
		vc.Style = defaultVoiceStyle
	}
	if vc.Variation == 0 {
		vc.Variation = 1
	}
	return vc
}
