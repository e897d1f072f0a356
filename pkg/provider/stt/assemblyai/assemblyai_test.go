package assemblyai

import (
	"strings"
	"testing"
	"time"

	"github.com/voxkit/voxgate/pkg/provider/stt"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
	if _, err := New("key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  stt.StreamConfig
		opts []Option
		want []string
	}{
		{
			name: "defaults",
			cfg:  stt.StreamConfig{},
			want: []string{"sample_rate=16000"},
		},
		{
			name: "explicit sample rate and encoding",
			cfg:  stt.StreamConfig{SampleRate: 48000, Encoding: "pcm_s16le"},
			want: []string{"sample_rate=48000", "encoding=pcm_s16le"},
		},
		{
			name: "provider-level sample rate override",
			cfg:  stt.StreamConfig{},
			opts: []Option{WithSampleRate(8000)},
			want: []string{"sample_rate=8000"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := New("key", tc.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			got, err := p.buildURL(tc.cfg)
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}
			if !strings.HasPrefix(got, realtimeEndpoint) {
				t.Errorf("URL %q does not start with %q", got, realtimeEndpoint)
			}
			for _, frag := range tc.want {
				if !strings.Contains(got, frag) {
					t.Errorf("URL %q missing %q", got, frag)
				}
			}
		})
	}
}

func TestParseRealtimeMessage(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name     string
		raw      string
		wantOK   bool
		wantText string
		wantFin  bool
	}{
		{
			name:     "partial transcript",
			raw:      `{"message_type":"PartialTranscript","text":"hello wor","confidence":0.61}`,
			wantOK:   true,
			wantText: "hello wor",
			wantFin:  false,
		},
		{
			name:     "final transcript",
			raw:      `{"message_type":"FinalTranscript","text":"hello world","confidence":0.94}`,
			wantOK:   true,
			wantText: "hello world",
			wantFin:  true,
		},
		{
			name:   "session begins is ignored",
			raw:    `{"message_type":"SessionBegins","session_id":"abc"}`,
			wantOK: false,
		},
		{
			name:   "empty text is ignored",
			raw:    `{"message_type":"FinalTranscript","text":""}`,
			wantOK: false,
		},
		{
			name:   "malformed JSON is ignored",
			raw:    `{nope`,
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := parseRealtimeMessage([]byte(tc.raw), now)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tc.wantText)
			}
			if got.IsFinal != tc.wantFin {
				t.Errorf("IsFinal = %v, want %v", got.IsFinal, tc.wantFin)
			}
			if !got.CapturedAt.Equal(now) {
				t.Errorf("CapturedAt = %v, want %v", got.CapturedAt, now)
			}
		})
	}
}
