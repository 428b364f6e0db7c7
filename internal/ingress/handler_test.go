package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/config"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/store"
)

type fakeStore struct {
	inserted store.InboxInsertResult
	insertErr error
	counts   model.Counts
	countsErr error
	lastKey, lastSource string
	lastPayload []byte
}

func (f *fakeStore) InboxInsert(ctx context.Context, key, source string, payload []byte) (store.InboxInsertResult, error) {
	f.lastKey, f.lastSource, f.lastPayload = key, source, payload
	return f.inserted, f.insertErr
}

func (f *fakeStore) Counts(ctx context.Context) (model.Counts, error) {
	return f.counts, f.countsErr
}

type fakeWatchdog struct {
	state model.WatchdogState
}

func (f *fakeWatchdog) State() model.WatchdogState {
	return f.state
}

func newTestHandler(s *fakeStore, wd *fakeWatchdog, sharedSecret string) *Handler {
	return &Handler{
		Store:        s,
		Watchdog:     wd,
		Settings:     &config.Settings{SharedSecret: sharedSecret},
		SharedSecret: sharedSecret,
	}
}

func TestHealthOK(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeWatchdog{}, "")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusIncludesWatchdog(t *testing.T) {
	s := &fakeStore{counts: model.Counts{InboxPending: 2, OutboxPending: 5}}
	wd := &fakeWatchdog{state: model.WatchdogState{Status: model.WatchdogUp}}
	h := newTestHandler(s, wd, "")

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["inbox_pending"])
	assert.Equal(t, float64(5), body["outbox_pending"])
	assert.NotNil(t, body["watchdog"])
}

func TestPostInboxRejectsWrongSharedSecret(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeWatchdog{}, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader("TTP00002=?"))
	req.Header.Set("X-Shared-Secret", "wrong")
	rec := httptest.NewRecorder()
	h.PostInbox(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPostInboxAcceptsCorrectSharedSecret(t *testing.T) {
	s := &fakeStore{inserted: store.InboxInsertResult{Stored: true, ID: 1, Key: "k1"}}
	h := newTestHandler(s, &fakeWatchdog{}, "topsecret")

	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader("TTP00002=?"))
	req.Header.Set("X-Shared-Secret", "topsecret")
	rec := httptest.NewRecorder()
	h.PostInbox(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostInboxPlaintextBody(t *testing.T) {
	s := &fakeStore{inserted: store.InboxInsertResult{Stored: true, ID: 1, Key: "k1"}}
	h := newTestHandler(s, &fakeWatchdog{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader("TTP00002=?"))
	rec := httptest.NewRecorder()
	h.PostInbox(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TTP00002=?", string(s.lastPayload))
	assert.Empty(t, s.lastSource)
}

func TestPostInboxJSONSourceExtraction(t *testing.T) {
	s := &fakeStore{inserted: store.InboxInsertResult{Stored: true, ID: 1, Key: "k1"}}
	h := newTestHandler(s, &fakeWatchdog{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader(`{"msg":"TTP00002=?","source":"vj6530"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.PostInbox(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vj6530", s.lastSource)
}

func TestPostInboxDuplicateReportsStoredFalse(t *testing.T) {
	s := &fakeStore{inserted: store.InboxInsertResult{Stored: false, ID: 9, Key: "dup-key"}}
	h := newTestHandler(s, &fakeWatchdog{}, "")

	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader("TTP00002=?"))
	req.Header.Set("X-Idempotency-Key", "dup-key")
	rec := httptest.NewRecorder()
	h.PostInbox(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["stored"])
	assert.Equal(t, "dup-key", body["idempotency_key"])
}

func TestConfigReturnsSettings(t *testing.T) {
	h := newTestHandler(&fakeStore{}, &fakeWatchdog{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	h.Config(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
