package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxkit/voxgate/internal/history"
	"github.com/voxkit/voxgate/internal/observe"
	"github.com/voxkit/voxgate/internal/session"
	"github.com/voxkit/voxgate/pkg/provider/llm"
	llmmock "github.com/voxkit/voxgate/pkg/provider/llm/mock"
	sttmock "github.com/voxkit/voxgate/pkg/provider/stt/mock"
	ttsmock "github.com/voxkit/voxgate/pkg/provider/tts/mock"
	"github.com/voxkit/voxgate/pkg/types"
)

type testGateway struct {
	srv    *httptest.Server
	orch   *session.Orchestrator
	conns  *ConnManager
	stt    *sttmock.Provider
	tts    *ttsmock.Provider
	store  *history.MemoryStore
	reader *sdkmetric.ManualReader
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sttp := sttmock.New()
	ttsp := ttsmock.New()
	ttsp.AutoFinish = true
	llmp := llmmock.New(llm.Chunk{Text: "mock answer"}, llm.Chunk{FinishReason: "stop"})

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	store := history.NewMemoryStore()
	conns := NewConnManager(metrics, nil)
	providers := &session.Providers{STT: sttp, LLM: llmp, TTS: ttsp}
	orch := session.NewOrchestrator(ctx, session.Config{}, conns, store, nil, nil, providers, metrics, nil)

	ws := NewHandler(orch, conns, []string{"*"}, 0, metrics, nil)
	api := NewAPI(orch, conns, ws, t.TempDir(), nil)

	mux := http.NewServeMux()
	api.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testGateway{srv: srv, orch: orch, conns: conns, stt: sttp, tts: ttsp, store: store, reader: reader}
}

// histogramCount returns the recorded sample count of a histogram metric, or 0
// when the metric has no data yet.
func (g *testGateway) histogramCount(t *testing.T, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := g.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name != name {
				continue
			}
			hist, ok := sm.Metrics[i].Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			var n uint64
			for _, dp := range hist.DataPoints {
				n += dp.Count
			}
			return n
		}
	}
	return 0
}

func (g *testGateway) dial(t *testing.T, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws?session_id=" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readEvent reads frames until one of the wanted type arrives.
func readEvent(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		var evt map[string]any
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("bad event frame %q: %v", data, err)
		}
		if evt["type"] == wantType {
			return evt
		}
	}
}

func TestWebSocketVoicePipeline(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	conn := g.dial(t, "ws-e2e")
	ctx := context.Background()

	if err := conn.Write(ctx, websocket.MessageText, []byte(frameStartStreaming)); err != nil {
		t.Fatalf("start_streaming: %v", err)
	}
	readEvent(t, conn, "audio_stream_ready")

	// Raw audio goes to the STT session.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("audio frame: %v", err)
	}

	sessions := g.stt.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("STT sessions = %d, want 1", len(sessions))
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(sessions[0].SentAudio()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sessions[0].SentAudio()) != 1 {
		t.Fatal("audio did not reach the STT session")
	}

	// A final transcript drives the full pipeline back over the socket.
	sessions[0].EmitFinal(types.Transcript{Text: "hello gateway"})
	readEvent(t, conn, "final_transcript")
	readEvent(t, conn, "llm_streaming_start")
	readEvent(t, conn, "response_saved")
	readEvent(t, conn, "tts_streaming_start")
	chunk := readEvent(t, conn, "tts_audio_chunk")
	if chunk["is_final"] != true {
		t.Errorf("tts_audio_chunk is_final = %v", chunk["is_final"])
	}
	complete := readEvent(t, conn, "llm_streaming_complete")
	if complete["complete_response"] != "mock answer" {
		t.Errorf("complete_response = %v", complete["complete_response"])
	}
	readEvent(t, conn, "session_reset")
}

func TestFinalTranscriptRecordsSTTLatency(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	conn := g.dial(t, "ws-stt-latency")
	ctx := context.Background()

	conn.Write(ctx, websocket.MessageText, []byte(frameStartStreaming))
	readEvent(t, conn, "audio_stream_ready")

	if n := g.histogramCount(t, "voxgate.stt.duration"); n != 0 {
		t.Fatalf("stt.duration samples before any final = %d, want 0", n)
	}

	sess := g.stt.Sessions()[0]
	sess.EmitFinal(types.Transcript{Text: "measure this one"})
	readEvent(t, conn, "session_reset")

	if n := g.histogramCount(t, "voxgate.stt.duration"); n != 1 {
		t.Fatalf("stt.duration samples after one final = %d, want 1", n)
	}

	// A second final within the same stream records another sample.
	sess.EmitFinal(types.Transcript{Text: "an entirely different question"})
	readEvent(t, conn, "session_reset")

	if n := g.histogramCount(t, "voxgate.stt.duration"); n != 2 {
		t.Fatalf("stt.duration samples after two finals = %d, want 2", n)
	}
}

func TestWebSocketNearDuplicateFinalDropped(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	conn := g.dial(t, "ws-neardup")
	ctx := context.Background()

	conn.Write(ctx, websocket.MessageText, []byte(frameStartStreaming))
	readEvent(t, conn, "audio_stream_ready")

	sess := g.stt.Sessions()[0]
	sess.EmitFinal(types.Transcript{Text: "what is the weather"})
	readEvent(t, conn, "session_reset")

	// Near-identical re-finalization must not produce a second answer.
	sess.EmitFinal(types.Transcript{Text: "What is the weather?"})
	time.Sleep(100 * time.Millisecond)

	snaps := g.orch.Sessions()
	if len(snaps) != 1 || snaps[0].Processing || snaps[0].QueueDepth != 0 {
		t.Fatalf("near-duplicate entered the pipeline: %+v", snaps)
	}
}

func TestWebSocketPersonaControlFrame(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	conn := g.dial(t, "ws-persona")
	ctx := context.Background()

	frame := `{"type":"persona_update","persona":"luffy"}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("persona frame: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snaps := g.orch.Sessions()
		if len(snaps) == 1 && snaps[0].Persona == "luffy" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("persona update never applied")
}

func TestConnManagerSendToUnboundSessionIsNoop(t *testing.T) {
	t.Parallel()
	m := NewConnManager(nil, nil)
	if err := m.Send(context.Background(), "ghost", session.EvtSessionReset()); err != nil {
		t.Fatalf("send to unbound session: %v", err)
	}
	if m.Count() != 0 {
		t.Fatalf("Count = %d", m.Count())
	}
}

func TestBackendAndSessionsEndpoints(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)

	resp, err := http.Get(g.srv.URL + "/api/backend")
	if err != nil {
		t.Fatalf("GET /api/backend: %v", err)
	}
	defer resp.Body.Close()
	var backend map[string]any
	json.NewDecoder(resp.Body).Decode(&backend)
	if backend["status"] != "ok" || backend["llm_ready"] != true {
		t.Errorf("backend = %v", backend)
	}

	resp2, err := http.Get(g.srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	defer resp2.Body.Close()
	var sessions map[string]any
	json.NewDecoder(resp2.Body).Decode(&sessions)
	if sessions["count"] != float64(0) {
		t.Errorf("sessions = %v", sessions)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	ctx := context.Background()

	g.store.Append(ctx, "h1", types.Message{Role: "user", Content: "hi", Timestamp: time.Now()})
	g.store.Append(ctx, "h1", types.Message{Role: "assistant", Content: "hello", Timestamp: time.Now()})

	resp, err := http.Get(g.srv.URL + "/agent/chat/h1/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()
	var got struct {
		SessionID string          `json:"session_id"`
		Messages  []types.Message `json:"messages"`
	}
	json.NewDecoder(resp.Body).Decode(&got)
	if got.SessionID != "h1" || len(got.Messages) != 2 {
		t.Fatalf("history = %+v", got)
	}

	req, _ := http.NewRequest(http.MethodDelete, g.srv.URL+"/agent/chat/h1/history", nil)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE history: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d", resp2.StatusCode)
	}

	msgs, _ := g.store.Messages(ctx, "h1", 0)
	if len(msgs) != 0 {
		t.Fatalf("history not cleared: %d messages", len(msgs))
	}
}

func TestValidateKeysEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)

	body := `{"api_keys":{"gemini":"g","assemblyai":"a","murf":"m"}}`
	resp, err := http.Post(g.srv.URL+"/api/validate-keys", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST validate-keys: %v", err)
	}
	defer resp.Body.Close()
	var got map[string]any
	json.NewDecoder(resp.Body).Decode(&got)
	if got["valid"] != true {
		t.Errorf("valid = %v", got["valid"])
	}
	keys := got["keys"].(map[string]any)
	if keys["tavily"] != false {
		t.Errorf("tavily = %v", keys["tavily"])
	}
}

func TestTestTTSEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	g.tts.GenerateURL = "https://audio.example/test.wav"

	resp, err := http.Post(g.srv.URL+"/debug/test-tts", "application/json", strings.NewReader(`{"text":"check one two"}`))
	if err != nil {
		t.Fatalf("POST test-tts: %v", err)
	}
	defer resp.Body.Close()
	var got map[string]any
	json.NewDecoder(resp.Body).Decode(&got)
	if got["audio_url"] != "https://audio.example/test.wav" {
		t.Errorf("audio_url = %v", got["audio_url"])
	}
	if calls := g.tts.GenerateCalls(); len(calls) != 1 || calls[0] != "check one two" {
		t.Errorf("GenerateCalls = %v", calls)
	}
}

func TestWebSearchEndpointWithoutClient(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)

	resp, err := http.Post(g.srv.URL+"/api/web-search", "application/json", strings.NewReader(`{"query":"go"}`))
	if err != nil {
		t.Fatalf("POST web-search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWebSocketStatusEndpoint(t *testing.T) {
	t.Parallel()
	g := newTestGateway(t)
	g.dial(t, "status-check")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(g.srv.URL + "/debug/websocket-status")
		if err != nil {
			t.Fatalf("GET websocket-status: %v", err)
		}
		var got map[string]any
		json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()
		if got["connections"] == float64(1) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("connection never showed up in websocket-status")
}
