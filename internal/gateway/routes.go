package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxkit/voxgate/internal/session"
)

// tempAudioMaxAge is how old a temp audio file must be before the cleanup
// endpoint removes it.
const tempAudioMaxAge = time.Hour

// API is the HTTP surface around the WebSocket core: session inspection,
// history access, key validation, and the debug endpoints.
type API struct {
	orch    *session.Orchestrator
	conns   *ConnManager
	ws      *Handler
	tempDir string
	logger  *slog.Logger

	startedAt time.Time
}

// NewAPI creates the HTTP API. tempDir is where fallback audio files are
// staged; empty uses the OS temp directory.
func NewAPI(orch *session.Orchestrator, conns *ConnManager, ws *Handler, tempDir string, logger *slog.Logger) *API {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "voxgate-audio")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		orch:      orch,
		conns:     conns,
		ws:        ws,
		tempDir:   tempDir,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.handleIndex)
	mux.HandleFunc("GET /chat", a.handleChat)
	mux.HandleFunc("GET /ws", a.ws.ServeWS)

	mux.HandleFunc("GET /api/backend", a.handleBackend)
	mux.HandleFunc("GET /api/sessions", a.handleSessions)
	mux.HandleFunc("GET /agent/chat/{sid}/history", a.handleHistoryGet)
	mux.HandleFunc("DELETE /agent/chat/{sid}/history", a.handleHistoryDelete)
	mux.HandleFunc("POST /api/web-search", a.handleWebSearch)
	mux.HandleFunc("POST /api/validate-keys", a.handleValidateKeys)
	mux.HandleFunc("POST /cleanup/temp-audio", a.handleCleanupTempAudio)

	mux.HandleFunc("GET /debug/websocket-status", a.handleWebSocketStatus)
	mux.HandleFunc("POST /debug/test-tts", a.handleTestTTS)
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>VoxGate</title></head>
<body>
<h1>VoxGate</h1>
<p>Real-time voice agent gateway. Open <a href="/chat">/chat</a> to start a session.</p>
</body>
</html>
`

const chatPage = `<!DOCTYPE html>
<html>
<head><title>VoxGate Chat</title></head>
<body>
<h1>Voice Session</h1>
<p>Connect a WebSocket client to <code>/ws</code> to stream audio.</p>
</body>
</html>
`

func (a *API) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

func (a *API) handleChat(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(chatPage))
}

func (a *API) handleBackend(w http.ResponseWriter, _ *http.Request) {
	providers := a.orch.Providers()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(a.startedAt).Round(time.Second).String(),
		"stt_ready":  providers != nil && providers.STT != nil,
		"llm_ready":  providers != nil && providers.LLM != nil,
		"tts_ready":  providers != nil && providers.TTS != nil,
		"web_search": providers != nil && providers.Search != nil,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, _ *http.Request) {
	snaps := a.orch.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(snaps),
		"sessions": snaps,
	})
}

func (a *API) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	msgs, err := a.orch.History().Messages(r.Context(), sid, 0)
	if err != nil {
		a.logger.Error("loading history", "session_id", sid, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sid,
		"messages":   msgs,
	})
}

func (a *API) handleHistoryDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if err := a.orch.History().Clear(r.Context(), sid); err != nil {
		a.logger.Error("clearing history", "session_id", sid, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to clear history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sid,
		"cleared":    true,
	})
}

func (a *API) handleWebSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "query is required"})
		return
	}

	providers := a.orch.Providers()
	if providers == nil || providers.Search == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "web search is not configured"})
		return
	}

	results, err := providers.Search.Search(r.Context(), req.Query, req.MaxResults)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"count":   len(results),
		"results": results,
	})
}

func (a *API) handleValidateKeys(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKeys session.APIKeys `json:"api_keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	status := map[string]bool{
		"gemini":     req.APIKeys.Gemini != "",
		"assemblyai": req.APIKeys.AssemblyAI != "",
		"murf":       req.APIKeys.Murf != "",
		"tavily":     req.APIKeys.Tavily != "",
	}
	valid := status["gemini"] && status["assemblyai"] && status["murf"]
	writeJSON(w, http.StatusOK, map[string]any{
		"valid": valid,
		"keys":  status,
	})
}

func (a *API) handleCleanupTempAudio(w http.ResponseWriter, _ *http.Request) {
	removed := 0
	entries, err := os.ReadDir(a.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"removed": 0})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	cutoff := time.Now().Add(-tempAudioMaxAge)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.tempDir, e.Name())); err != nil {
			a.logger.Warn("removing temp audio file", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) handleWebSocketStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections":   a.conns.Count(),
		"connected_ids": a.conns.SessionIDs(),
		"sessions":      a.orch.Sessions(),
	})
}

func (a *API) handleTestTTS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
		return
	}

	providers := a.orch.Providers()
	if providers == nil || providers.TTS == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "TTS is not configured"})
		return
	}

	url, err := providers.TTS.Generate(r.Context(), req.Text, providers.Voice)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audio_url": url})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
