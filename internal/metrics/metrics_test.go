package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInitMetricsIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		InitMetrics()
		InitMetrics()
	})
}

func TestRecordersAreExposed(t *testing.T) {
	InitMetrics()

	RecordFrame("sad")
	RecordFrameError("decode")
	RecordUtterance("assessed")
	RecordLLMCall("parsed", 120*time.Millisecond)
	SetActiveSessions(Voice, 3)
	RecordEvicted(Video, 2)

	body := scrape(t)
	assert.Contains(t, body, `mindscreen_frames_processed_total{emotion="sad"}`)
	assert.Contains(t, body, `mindscreen_frame_errors_total{reason="decode"}`)
	assert.Contains(t, body, `mindscreen_utterances_total{status="assessed"}`)
	assert.Contains(t, body, `mindscreen_llm_request_duration_seconds_count{kind="parsed"}`)
	assert.Contains(t, body, `mindscreen_active_sessions{modality="voice"} 3`)
	assert.Contains(t, body, `mindscreen_evicted_sessions_total{modality="video"}`)
}
