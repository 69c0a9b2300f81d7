package interfaces

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	mux   *http.ServeMux
	sched *recordingScheduler
}

func newHTTPFixture(t *testing.T, rule string) *httpFixture {
	t.Helper()
	sched := &recordingScheduler{}
	svc := newTestService(t, newTestRepo(t), sched, rule)
	mux := http.NewServeMux()
	NewOrderHandler(svc, nil).RegisterRoutes(mux)
	return &httpFixture{mux: mux, sched: sched}
}

func (f *httpFixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestOrderHandler_CreateAndGet(t *testing.T) {
	f := newHTTPFixture(t, "")

	rec := f.do(http.MethodPost, "/api/orders", `{"tokenIn":"SOL","tokenOut":"USDC","amount":"1.5","slippage":0.02}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, "pending", created["status"])
	id, _ := created["orderId"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, []string{id}, f.sched.ids)

	rec = f.do(http.MethodGet, "/api/orders/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody(t, rec)
	assert.Equal(t, id, got["id"])
	assert.Equal(t, "SOL", got["tokenIn"])
	assert.Equal(t, "pending", got["status"])

	rec = f.do(http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])
}

func TestOrderHandler_CreateErrors(t *testing.T) {
	f := newHTTPFixture(t, "amount < 100.0")

	rec := f.do(http.MethodPost, "/api/orders", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeBody(t, rec)["error"])

	rec = f.do(http.MethodPost, "/api/orders", `{"tokenIn":"SOL","tokenOut":"SOL","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/orders", `{"tokenIn":"SOL","tokenOut":"USDC","amount":"500"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Empty(t, f.sched.ids)
}

func TestOrderHandler_QueryErrors(t *testing.T) {
	f := newHTTPFixture(t, "")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/orders/unknown-id", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/orders?status=done", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/orders?limit=-1", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodDelete, "/api/orders", "").Code)
}

func TestOrderHandler_Probes(t *testing.T) {
	f := newHTTPFixture(t, "")
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)

	rec := f.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "").Code)
}
