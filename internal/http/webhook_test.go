package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendlog/internal/core"
)

func (e *testEnv) webhook(t *testing.T, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(HeaderWebhookSignature, signature)
	}
	return e.do(t, req, "")
}

func (e *testEnv) signedWebhook(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.webhook(t, body, SignWebhook(testWebhookSecret, []byte(body)))
}

const createdEvent = `{
  "type": "user.created",
  "data": {
    "id": "user_2nop567qrs890tuv",
    "first_name": "Charlie",
    "last_name": "Brown",
    "image_url": "https://images.clerk.dev/uploaded/img_2nop567qrs890tuv.jpeg",
    "email_addresses": [{"email_address": "charlie.brown@example.com"}]
  }
}`

func TestWebhookSignature(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"not hex", "zzzz"},
		{"wrong secret", SignWebhook("other", []byte(createdEvent))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.webhook(t, createdEvent, tt.signature)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}

	rr := env.webhook(t, createdEvent, "sha256="+SignWebhook(testWebhookSecret, []byte(createdEvent)))
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	const id = "user_2nop567qrs890tuv"

	require.Equal(t, http.StatusOK, env.signedWebhook(t, createdEvent).Code)
	// redelivery is harmless
	require.Equal(t, http.StatusOK, env.signedWebhook(t, createdEvent).Code)

	var me core.User
	decodeData(t, env.query(t, "currentUser", "", id), &me)
	assert.Equal(t, "Charlie Brown", me.Name)
	assert.Equal(t, "charlie.brown@example.com", me.Email)
	assert.Equal(t, "Charlie", me.FirstName)

	updated := `{"type":"user.updated","data":{"id":"` + id + `","first_name":"Chuck","last_name":"Brown"}}`
	require.Equal(t, http.StatusOK, env.signedWebhook(t, updated).Code)

	decodeData(t, env.query(t, "currentUser", "", id), &me)
	assert.Equal(t, "Chuck Brown", me.Name)
	assert.Equal(t, "charlie.brown@example.com", me.Email, "fields absent from the event are kept")

	rr := env.mutate(t, "records.createRecord", `{"text":"Kite","amount":15}`, id)
	require.Equal(t, http.StatusOK, rr.Code)

	deleted := `{"type":"user.deleted","data":{"id":"` + id + `","deleted":true}}`
	require.Equal(t, http.StatusOK, env.signedWebhook(t, deleted).Code)
	require.Equal(t, http.StatusOK, env.signedWebhook(t, deleted).Code)

	rr = env.query(t, "currentUser", "", id)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebhookUpdateCreatesMissingUser(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"type":"user.updated","data":{"id":"user_late","first_name":"Late","last_name":"Comer"}}`
	require.Equal(t, http.StatusOK, env.signedWebhook(t, body).Code)

	var me core.User
	decodeData(t, env.query(t, "currentUser", "", "user_late"), &me)
	assert.Equal(t, "Late Comer", me.Name)
}

func TestWebhookBadPayloads(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `nope`, http.StatusBadRequest},
		{"missing id", `{"type":"user.created","data":{}}`, http.StatusBadRequest},
		{"bad email", `{"type":"user.created","data":{"id":"user_x","email_addresses":[{"email_address":"nope"}]}}`, http.StatusBadRequest},
		{"unknown event", `{"type":"session.created","data":{"id":"sess_1"}}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, env.signedWebhook(t, tt.body).Code)
		})
	}
}

func TestWebhookDisabledWithoutSecret(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.WebhookSecret = "" })

	rr := env.webhook(t, createdEvent, SignWebhook("", []byte(createdEvent)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
