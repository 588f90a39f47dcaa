package identity

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPage_Golden(t *testing.T) {
	g := goldie.New(t)

	ok, err := renderPage("Login successful!")
	require.NoError(t, err)
	g.Assert(t, "callback_success", ok)

	failed, err := renderPage("Login was not completed: access_denied")
	require.NoError(t, err)
	g.Assert(t, "callback_provider_error", failed)
}

func TestCallbackHandler_Statuses(t *testing.T) {
	m := NewManager(testLogger())
	resultCh := make(chan CallbackResult, 1)
	h := recoverHandler(callbackHandler(m, resultCh, testLogger()), testLogger())

	req, err := m.Begin("http://127.0.0.1:1/callback")
	require.NoError(t, err)

	get := func(target string) *http.Response {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

		return rec.Result()
	}

	assert.Equal(t, http.StatusNotFound, get("/favicon.ico").StatusCode)
	assert.Equal(t, http.StatusNotFound, get("/callback").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get("/callback?code=c&state=forged").StatusCode)
	assert.Empty(t, resultCh)

	resp := get("/callback?code=c&state=" + req.State)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Login successful!")

	res := <-resultCh
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, "c", res.Code)
}

func TestRecoverHandler_Returns500(t *testing.T) {
	h := recoverHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), testLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCallbackServer_BindsLoopback(t *testing.T) {
	m := NewManager(testLogger())

	cs, err := startCallbackServer(context.Background(), m, testLogger())
	require.NoError(t, err)
	defer cs.shutdown()

	assert.Regexp(t, `^http://127\.0\.0\.1:\d+/callback$`, cs.RedirectURI())

	resp, err := http.Get(cs.RedirectURI())
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
