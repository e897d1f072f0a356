package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/voxkit/voxgate/internal/session"
)

// Plain-text control frames that bracket the audio stream.
const (
	frameStartStreaming = "start_streaming"
	frameStopStreaming  = "stop_streaming"
)

// clientFrame is a JSON control message from the browser. The type field
// selects which of the remaining fields are meaningful.
type clientFrame struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	Persona   string `json:"persona,omitempty"`

	// web_search_update carries "enabled"; the session_id bind frame carries
	// "web_search_enabled". Both spellings are accepted everywhere.
	WebSearchEnabled *bool `json:"web_search_enabled,omitempty"`
	Enabled          *bool `json:"enabled,omitempty"`

	APIKeys *session.APIKeys `json:"api_keys,omitempty"`
}

// parseClientFrame decodes a JSON control frame.
func parseClientFrame(data []byte) (clientFrame, error) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return clientFrame{}, fmt.Errorf("gateway: parse client frame: %w", err)
	}
	if f.Type == "" {
		return clientFrame{}, fmt.Errorf("gateway: client frame missing type")
	}
	return f, nil
}

// webSearchFlag resolves the two accepted spellings of the toggle.
func (f clientFrame) webSearchFlag() *bool {
	if f.Enabled != nil {
		return f.Enabled
	}
	return f.WebSearchEnabled
}

// control maps the frame onto an orchestrator control message.
func (f clientFrame) control() session.Control {
	return session.Control{
		Type:             f.Type,
		Persona:          f.Persona,
		WebSearchEnabled: f.webSearchFlag(),
		APIKeys:          f.APIKeys,
	}
}
