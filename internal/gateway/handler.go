package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxkit/voxgate/internal/observe"
	"github.com/voxkit/voxgate/internal/session"
	"github.com/voxkit/voxgate/pkg/provider/stt"
)

const (
	// maxFrameBytes caps a single inbound frame; browser audio chunks stay
	// well under this.
	maxFrameBytes = 1 << 20

	// audioAckEvery throttles audio_chunk_received acknowledgements.
	audioAckEvery = 50

	// defaultNearDupWindow is the comparison window for the front-end
	// transcript flutter filter.
	defaultNearDupWindow = 8 * time.Second

	defaultSampleRate = 16000
	defaultEncoding   = "pcm_s16le"
)

// Handler serves the client WebSocket endpoint.
type Handler struct {
	orch       *session.Orchestrator
	conns      *ConnManager
	origins    []string
	nearDupWin time.Duration
	metrics    *observe.Metrics
	logger     *slog.Logger
}

// NewHandler creates a Handler. origins is the allowed WebSocket origin
// pattern list; empty means same-origin only. nearDupWindow tunes the
// transcript flutter filter; zero uses the default.
func NewHandler(orch *session.Orchestrator, conns *ConnManager, origins []string, nearDupWindow time.Duration, metrics *observe.Metrics, logger *slog.Logger) *Handler {
	if nearDupWindow == 0 {
		nearDupWindow = defaultNearDupWindow
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:       orch,
		conns:      conns,
		origins:    origins,
		nearDupWin: nearDupWindow,
		metrics:    metrics,
		logger:     logger,
	}
}

// ServeWS upgrades the request and runs the connection until the client goes
// away. Binary frames are raw audio for STT ingest; text frames are either the
// plain start/stop streaming markers or JSON control messages.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sttCfg := stt.StreamConfig{
		SampleRate: queryInt(r, "sample_rate", defaultSampleRate),
		Encoding:   defaultEncoding,
	}

	ctx := r.Context()
	h.conns.Bind(sessionID, conn)
	h.metrics.ActiveConnections.Add(ctx, 1)
	h.orch.Bind(sessionID, "", nil)
	h.logger.Info("client connected", "session_id", sessionID)

	c := &clientConn{
		h:         h,
		conn:      conn,
		sessionID: sessionID,
		sttCfg:    sttCfg,
		nearDup:   session.NewNearDupFilter(h.nearDupWin),
	}
	c.run(ctx)

	c.stopStreaming()
	h.orch.OnDisconnect(c.sessionID)
	h.conns.Unbind(c.sessionID, conn)
	h.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)
	conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("client disconnected", "session_id", c.sessionID)
}

// clientConn is the per-connection read-loop state. All fields are touched
// only from the read loop, except the transcript forwarder which owns the
// near-dup filter for the duration of one STT stream.
type clientConn struct {
	h         *Handler
	conn      *websocket.Conn
	sessionID string
	sttCfg    stt.StreamConfig

	sttSess    stt.SessionHandle
	forwarder  sync.WaitGroup
	nearDup    *session.NearDupFilter
	audioBytes int
	audioCount int
}

func (c *clientConn) run(ctx context.Context) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			c.onAudio(ctx, data)
		case websocket.MessageText:
			c.onText(ctx, data)
		}
	}
}

func (c *clientConn) onAudio(ctx context.Context, data []byte) {
	if c.sttSess == nil {
		return
	}
	if err := c.sttSess.SendAudio(data); err != nil {
		c.h.logger.Warn("forwarding audio to STT", "session_id", c.sessionID, "error", err)
		return
	}
	c.audioBytes += len(data)
	c.audioCount++
	if c.audioCount%audioAckEvery == 0 {
		_ = c.h.conns.Send(ctx, c.sessionID, session.EvtAudioChunkReceived(c.audioBytes))
	}
}

func (c *clientConn) onText(ctx context.Context, data []byte) {
	switch strings.TrimSpace(string(data)) {
	case frameStartStreaming:
		c.startStreaming(ctx)
		return
	case frameStopStreaming:
		c.stopStreaming()
		return
	}

	f, err := parseClientFrame(data)
	if err != nil {
		c.h.logger.Warn("bad client frame", "session_id", c.sessionID, "error", err)
		return
	}

	if f.Type == "session_id" && f.SessionID != "" && f.SessionID != c.sessionID {
		c.rebind(f.SessionID)
	}
	c.h.orch.OnControl(ctx, c.sessionID, f.control())
}

// rebind moves this socket to a different session id. The old session's
// in-flight work is cancelled; its queue survives in case the client returns.
func (c *clientConn) rebind(newID string) {
	c.h.logger.Info("session rebind", "from", c.sessionID, "to", newID)
	c.stopStreaming()
	c.h.conns.Unbind(c.sessionID, c.conn)
	c.h.orch.CancelInFlight(c.sessionID)
	c.sessionID = newID
	c.h.conns.Bind(newID, c.conn)
}

func (c *clientConn) startStreaming(ctx context.Context) {
	if c.sttSess != nil {
		return
	}
	providers := c.h.orch.Providers()
	if providers == nil || providers.STT == nil {
		_ = c.h.conns.Send(ctx, c.sessionID, session.EvtAPIKeysRequired([]string{"assemblyai"}))
		return
	}

	sess, err := providers.STT.StartStream(ctx, c.sttCfg)
	if err != nil {
		c.h.logger.Error("opening STT stream", "session_id", c.sessionID, "error", err)
		c.h.metrics.RecordProviderError(ctx, "stt", "start_stream")
		return
	}
	c.h.metrics.RecordProviderRequest(ctx, "stt", "start_stream", "ok")

	c.sttSess = sess
	c.audioBytes = 0
	c.audioCount = 0
	c.forwarder.Add(1)
	go func() {
		defer c.forwarder.Done()
		c.forwardTranscripts(ctx, sess)
	}()

	_ = c.h.conns.Send(ctx, c.sessionID, session.EvtAudioStreamReady())
}

// stopStreaming closes the STT session and waits for the transcript forwarder
// to drain. Safe to call when no stream is open.
func (c *clientConn) stopStreaming() {
	if c.sttSess == nil {
		return
	}
	if err := c.sttSess.Close(); err != nil {
		c.h.logger.Debug("closing STT session", "session_id", c.sessionID, "error", err)
	}
	c.forwarder.Wait()
	c.sttSess = nil
}

// forwardTranscripts relays STT output to the client and the orchestrator.
// Partials are display-only; finals pass through the flutter filter before
// entering the pipeline.
func (c *clientConn) forwardTranscripts(ctx context.Context, sess stt.SessionHandle) {
	partials, finals := sess.Partials(), sess.Finals()
	// Per-utterance transcription latency: time from the stream opening, or
	// from the previous final, to this final arriving.
	mark := time.Now()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			_ = c.h.conns.Send(ctx, c.sessionID, session.EvtPartialTranscript(t.Text))

		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.h.metrics.STTDuration.Record(ctx, time.Since(mark).Seconds())
			mark = time.Now()
			if c.nearDup.Observe(t.Text, time.Now()) {
				c.h.metrics.RecordDuplicate(ctx, "near_dup")
				c.h.logger.Debug("near-duplicate final dropped", "session_id", c.sessionID, "text", t.Text)
				continue
			}
			_ = c.h.conns.Send(ctx, c.sessionID, session.EvtFinalTranscript(t.Text))
			c.h.orch.OnFinalTranscript(ctx, c.sessionID, t.Text)

		case <-ctx.Done():
			return
		}
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
