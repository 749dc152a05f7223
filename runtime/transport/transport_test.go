package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatecopilot/runtime/runtime/memory"
	sessioninmem "github.com/estatecopilot/runtime/runtime/session/inmem"
	"github.com/estatecopilot/runtime/runtime/transport"
)

type fakeMessageStore struct {
	messages []memory.Message
}

func (f *fakeMessageStore) LoadMessages(_ context.Context, _ string, limit int) ([]memory.Message, error) {
	if limit < len(f.messages) {
		return f.messages[:limit], nil
	}
	return f.messages, nil
}

func newServer(t *testing.T, msgs *fakeMessageStore) (*transport.Server, http.Handler) {
	t.Helper()
	sessions := sessioninmem.New()
	srv := transport.New(sessions, msgs, nil, time.Hour, nil)
	return srv, srv.Routes()
}

func TestHandleStartCreatesSession(t *testing.T) {
	_, routes := newServer(t, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_id"`)
}

func TestHandleGetSessionRoundTrips(t *testing.T) {
	_, routes := newServer(t, &fakeMessageStore{})

	startReq := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(`{}`))
	startRec := httptest.NewRecorder()
	routes.ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusOK, startRec.Code)

	sessionID := extractSessionID(t, startRec.Body.String())

	getReq := httptest.NewRequest(http.MethodGet, "/"+sessionID, nil)
	getRec := httptest.NewRecorder()
	routes.ServeHTTP(getRec, getReq)

	assert.Equal(t, http.StatusOK, getRec.Code)
	assert.Contains(t, getRec.Body.String(), sessionID)
}

func TestHandleGetSessionNotFound(t *testing.T) {
	_, routes := newServer(t, &fakeMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDeleteSessionEndsIt(t *testing.T) {
	_, routes := newServer(t, &fakeMessageStore{})

	startReq := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(`{}`))
	startRec := httptest.NewRecorder()
	routes.ServeHTTP(startRec, startReq)
	sessionID := extractSessionID(t, startRec.Body.String())

	delReq := httptest.NewRequest(http.MethodDelete, "/"+sessionID, nil)
	delRec := httptest.NewRecorder()
	routes.ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusOK, delRec.Code)
}

func TestHandleListMessagesAppliesLimit(t *testing.T) {
	msgs := &fakeMessageStore{messages: []memory.Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}}
	_, routes := newServer(t, msgs)

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/messages?limit=2", nil)
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "one")
	assert.Contains(t, rec.Body.String(), "two")
	assert.NotContains(t, rec.Body.String(), "three")
}

func extractSessionID(t *testing.T, body string) string {
	t.Helper()
	const marker = `"session_id":"`
	idx := strings.Index(body, marker)
	require.True(t, idx >= 0, "response missing session_id: %s", body)
	rest := body[idx+len(marker):]
	end := strings.Index(rest, `"`)
	require.True(t, end >= 0)
	return rest[:end]
}
