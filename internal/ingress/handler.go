package ingress

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/config"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/notify"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/store"
)

// InboxStore is the Store surface the ingress handler needs.
type InboxStore interface {
	InboxInsert(ctx context.Context, key, source string, payload []byte) (store.InboxInsertResult, error)
	Counts(ctx context.Context) (model.Counts, error)
}

// WatchdogReader exposes the watchdog snapshot for GET /api/status.
type WatchdogReader interface {
	State() model.WatchdogState
}

type Handler struct {
	Store        InboxStore
	Watchdog     WatchdogReader
	Settings     *config.Settings
	SharedSecret string
	Notify       *notify.Notifier
}

func NewHandler(store InboxStore, wd WatchdogReader, settings *config.Settings, n *notify.Notifier) *Handler {
	return &Handler{Store: store, Watchdog: wd, Settings: settings, SharedSecret: settings.SharedSecret, Notify: n}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Store.Counts(r.Context())
	if err != nil {
		slog.Error("ingress: counts failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
		return
	}

	resp := map[string]any{
		"ok":             true,
		"inbox_pending":  counts.InboxPending,
		"outbox_pending": counts.OutboxPending,
	}
	if h.Watchdog != nil {
		resp["watchdog"] = h.Watchdog.State()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Config is the supplemented, redacted read-back of the active Settings
// (SPEC_FULL §6.8). It is metadata read-back, not the excluded token-gated
// settings editor.
func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings)
}

// PostInbox implements spec §4.8 exactly: optional shared-secret check,
// JSON-or-plaintext body handling, and the {ok, stored, idempotency_key}
// response shape. The ingress does no command parsing; that is the
// Router's job, which preserves the durability contract that a 200
// response means the message survives a process crash.
func (h *Handler) PostInbox(w http.ResponseWriter, r *http.Request) {
	if h.SharedSecret != "" && r.Header.Get("X-Shared-Secret") != h.SharedSecret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	source := ""
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		var obj map[string]any
		if err := json.Unmarshal(body, &obj); err == nil {
			if s, ok := obj["source"].(string); ok {
				source = s
			}
		}
	}

	key := r.Header.Get("X-Idempotency-Key")

	result, err := h.Store.InboxInsert(r.Context(), key, source, body)
	if err != nil {
		slog.Error("ingress: inbox insert failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if h.Notify != nil && result.Stored {
		h.Notify.Publish(r.Context(), strconv.FormatInt(result.ID, 10))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"stored":          result.Stored,
		"idempotency_key": result.Key,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
