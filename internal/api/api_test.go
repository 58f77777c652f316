package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusgw/smppsim/internal/api"
	"github.com/nimbusgw/smppsim/internal/lifecycle"
	"github.com/nimbusgw/smppsim/internal/message"
	"github.com/nimbusgw/smppsim/internal/moinject"
	"github.com/nimbusgw/smppsim/internal/registry"
)

func testServer() *api.Server {
	reg := registry.New()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sched := lifecycle.New(lifecycle.Config{MaxTimeEnrouteMS: 10_000}, reg, nil)
	inj := moinject.New(moinject.Config{IntervalMS: 100000}, nil, reg, nil)
	return api.New(api.Config{Port: 0}, api.Deps{
		Registry:  reg,
		Inbound:   message.NewQueue(100),
		Scheduler: sched,
		Injector:  inj,
		Log:       log.WithField("test", true),
	})
}

func do(s *api.Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleStatusReportsCounters(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "sessions")
	assert.Contains(t, body, "submitted_total")
}

func TestHandleSessionsEmpty(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestHandleQueuesEmpty(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodGet, "/api/queues", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "inbound")
}

func TestHandleInjectMORejectsMissingTarget(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodPost, "/api/mo", map[string]string{"short_message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInjectMOAcceptsValidRecord(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodPost, "/api/mo", moinject.Record{
		SourceAddr: "1111", DestAddr: "2222",
		ShortMessage: "hello", TargetSystemID: "acct",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUpdateConfigWhitelistedKeySucceeds(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodPost, "/api/config", map[string]string{
		"key": "lifecycle.max_time_enroute_ms", "value": "5000",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleUpdateConfigUnknownKeyRejected(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodPost, "/api/config", map[string]string{
		"key": "bogus.key", "value": "5000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleUpdateConfigNonIntegerValueRejected(t *testing.T) {
	s := testServer()
	rec := do(s, http.MethodPost, "/api/config", map[string]string{
		"key": "lifecycle.percent_delivered", "value": "not-a-number",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

