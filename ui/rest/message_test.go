package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const outboundBody = `{"instance":"acme-1","phone_number":"5511988887777","message_type":"text","content":"hello"}`

func TestMessages_DirectSend(t *testing.T) {
	s := newTestServer(t)
	s.createConnection(t, "ws-a", "acme-1")

	r := s.call(t, http.MethodPost, "/api/messages", outboundBody, asWorkspace("ws-a"))
	require.Equal(t, http.StatusOK, r.Status, r.Raw)
	res := results(t, r)
	assert.Equal(t, "direct", res["path"])
	assert.Equal(t, "BAE5EXT", res["external_id"])

	msg, err := s.msgs.FindMessage(context.Background(), res["message_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.MessageSent, msg.Status)
}

func TestMessages_AutomationFallsBackOn500(t *testing.T) {
	s := newTestServer(t)
	s.createConnection(t, "ws-a", "acme-1")

	var hits int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hook.Close()

	r := s.call(t, http.MethodPut, "/api/workspaces/ws-a/automation", `{"url":"`+hook.URL+`","secret":"tok"}`, asWorkspace("ws-a"))
	require.Equal(t, http.StatusOK, r.Status, r.Raw)

	r = s.call(t, http.MethodPost, "/api/messages", outboundBody, asWorkspace("ws-a"))
	require.Equal(t, http.StatusOK, r.Status, r.Raw)
	res := results(t, r)
	assert.Equal(t, "direct", res["path"])
	assert.Len(t, res["attempts"], 1)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestMessages_AutomationSuccess(t *testing.T) {
	s := newTestServer(t)
	s.createConnection(t, "ws-a", "acme-1")

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"external_id":"N8N-1"}`))
	}))
	defer hook.Close()

	r := s.call(t, http.MethodPut, "/api/workspaces/ws-a/automation", `{"url":"`+hook.URL+`"}`, asWorkspace("ws-a"))
	require.Equal(t, http.StatusOK, r.Status, r.Raw)

	r = s.call(t, http.MethodPost, "/api/messages", outboundBody, asWorkspace("ws-a"))
	require.Equal(t, http.StatusOK, r.Status, r.Raw)
	assert.Equal(t, "automation", results(t, r)["path"])
}

func TestMessages_Validation(t *testing.T) {
	s := newTestServer(t)
	s.createConnection(t, "ws-a", "acme-1")

	r := s.call(t, http.MethodPost, "/api/messages", `{"instance":"acme-1","phone_number":"x","content":"hi"}`, asWorkspace("ws-a"))
	assert.Equal(t, http.StatusBadRequest, r.Status)

	r = s.call(t, http.MethodPost, "/api/messages", outboundBody, asWorkspace("ws-b"))
	assert.Equal(t, http.StatusNotFound, r.Status)
}

func TestWorkspaces_AutomationScopedToActor(t *testing.T) {
	s := newTestServer(t)

	r := s.call(t, http.MethodPut, "/api/workspaces/ws-b/automation", `{"url":"https://n8n.example.com/x"}`, asWorkspace("ws-a"))
	assert.Equal(t, http.StatusNotFound, r.Status)

	r = s.call(t, http.MethodPut, "/api/workspaces/ws-a/automation", `{"url":"not a url"}`, asWorkspace("ws-a"))
	assert.Equal(t, http.StatusBadRequest, r.Status)

	r = s.call(t, http.MethodGet, "/api/workspaces/ws-a", "", asWorkspace("ws-a"))
	require.Equal(t, http.StatusOK, r.Status)
	assert.Equal(t, "ws-a", results(t, r)["id"])
}
