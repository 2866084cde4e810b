package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePathCollapsesRunIDSegment(t *testing.T) {
	assert.Equal(t, "/api/v1/runs/{id}", normalizePath("/api/v1/runs/run-123"))
	assert.Equal(t, "/api/v1/runs/{id}/events", normalizePath("/api/v1/runs/run-123/events"))
	assert.Equal(t, "/healthz", normalizePath("/healthz"))
}

func TestMiddlewareRecordsStatusAndLatency(t *testing.T) {
	m := New("docseval_test_middleware")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRecordMethodsNeverPanic(t *testing.T) {
	m := New("docseval_test_records")
	assert.NotPanics(t, func() {
		m.RecordRunFinished("completed", 2*time.Second, 0.5)
		m.RecordTaskEvaluation("baseline", "pass", "completed", 4)
		m.RecordJudgeCall("pass", 500*time.Millisecond)
		m.RecordModelCall("plan", 100, 50)
		m.RecordBudgetStop("step_limit")
		m.WSConnectionOpened()
		m.WSConnectionClosed()
		m.RecordWSMessage("outbound")
	})
}
