package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/invoiceflow/internal/persistence"
)

var _ persistence.Recorder = (*PipelineMetrics)(nil)

func scrape(t *testing.T, m *PipelineMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestPipelineMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := NewPipelineMetrics("test")

	m.DocumentTransition("PENDING", "UPLOADED")
	m.DocumentTransition("PENDING", "UPLOADED")
	m.CollectionStatus("IN_PROGRESS")
	m.PublishResult("no_subscribers")
	m.PublishResult("")
	m.ObserveBatch("update", &persistence.Result{SuccessCount: 3, FailureCount: 1})
	m.ObserveBatch("update", nil)
	m.ValidationFindings(2, 0)

	body := scrape(t, m)
	assert.Contains(t, body, `invoiceflow_document_transitions_total{from="PENDING",service="test",to="UPLOADED"} 2`)
	assert.Contains(t, body, `invoiceflow_collection_status_changes_total{service="test",status="IN_PROGRESS"} 1`)
	assert.Contains(t, body, `invoiceflow_broadcast_publish_total{result="no_subscribers",service="test"} 1`)
	assert.Contains(t, body, `invoiceflow_broadcast_publish_total{result="unknown",service="test"} 1`)
	assert.Contains(t, body, `invoiceflow_batch_records_total{op="update",outcome="success",service="test"} 3`)
	assert.Contains(t, body, `invoiceflow_batch_records_total{op="update",outcome="failure",service="test"} 1`)
	assert.Contains(t, body, `invoiceflow_validation_findings_total{service="test",severity="error"} 2`)
	assert.NotContains(t, body, `severity="warning"`)
}

func TestPipelineMetrics_QueueSubmit(t *testing.T) {
	t.Parallel()

	m := NewPipelineMetrics("test")
	m.QueueSubmit(20*time.Millisecond, nil)
	m.QueueSubmit(time.Second, errors.New("unavailable"))

	body := scrape(t, m)
	assert.Contains(t, body, `invoiceflow_queue_submit_duration_seconds_count{service="test",status="error"} 1`)
	assert.Contains(t, body, `invoiceflow_queue_submit_duration_seconds_count{service="test",status="success"} 1`)
}
