package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func requestDurationSamples(t *testing.T, rm metricdata.ResourceMetrics) uint64 {
	t.Helper()
	met := findMetric(rm, "voxgate.http.request.duration")
	if met == nil {
		return 0
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("voxgate.http.request.duration is not a histogram")
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestMiddlewareRecordsRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/backend", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if n := requestDurationSamples(t, collect(t, reader)); n != 1 {
		t.Errorf("request duration samples = %d, want 1", n)
	}
}

func TestMiddlewareSkipsProbeEndpoints(t *testing.T) {
	m, reader := newTestMetrics(t)
	served := 0
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
	}))

	for _, path := range []string{"/metrics", "/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Header().Get("X-Correlation-ID") != "" {
			t.Errorf("%s got a correlation id, want passthrough", path)
		}
	}

	if served != 3 {
		t.Fatalf("handler served %d probe requests, want 3", served)
	}
	if n := requestDurationSamples(t, collect(t, reader)); n != 0 {
		t.Errorf("probe endpoints recorded %d duration samples, want 0", n)
	}
}

func TestMiddlewareWebSocketUpgradeSkipsHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	var gotWriter http.ResponseWriter
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWriter = w
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(rec, req)

	// The socket lifetime is not a request latency; no histogram sample.
	if n := requestDurationSamples(t, collect(t, reader)); n != 0 {
		t.Errorf("upgrade recorded %d duration samples, want 0", n)
	}
	// The upgrade handshake hijacks the connection, so the handler must see
	// the raw writer, not the status-capturing wrapper.
	if _, wrapped := gotWriter.(*statusRecorder); wrapped {
		t.Error("upgrade request was handed the wrapped writer")
	}
}
