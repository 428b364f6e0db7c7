// Package routerloop implements the Router Loop: drains the Inbox, parses
// and dispatches each command, and enqueues Outbox jobs per spec §4.6.
package routerloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/device"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/notify"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/parser"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/store"
)

const tracerName = "databridge/routerloop"

// Store is the subset of *store.Store the Router loop drives via
// transactions, kept as an interface boundary for tests.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Router drains Inbox rows, executes each sub-command against the
// Device Adapter registry, and enqueues the resulting Outbox jobs
// atomically with the Inbox row's transition to done.
type Router struct {
	Store       Store
	Adapters    map[string]device.Adapter
	PeerInboxURL string
	Notify      *notify.Notifier
	NotifyOut   *notify.Notifier

	idleSleep time.Duration
}

func New(s Store, adapters map[string]device.Adapter, peerInboxURL string, in, out *notify.Notifier) *Router {
	return &Router{
		Store:        s,
		Adapters:     adapters,
		PeerInboxURL: peerInboxURL,
		Notify:       in,
		NotifyOut:    out,
		idleSleep:    100 * time.Millisecond,
	}
}

// Run drains pending Inbox rows until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	if r.Notify != nil {
		r.Notify.EnsureGroup(ctx)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := r.runOnce(context.WithoutCancel(ctx))
		if err != nil {
			slog.Error("routerloop: iteration failed", "error", err)
			r.sleep(ctx)
			continue
		}
		if !processed {
			if r.Notify != nil && r.Notify.Wait(ctx, "router", r.idleSleep) {
				continue
			}
			r.sleep(ctx)
		}
	}
}

func (r *Router) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(r.idleSleep):
	}
}

// runOnce claims and processes one Inbox row. It returns processed=false
// when there was no pending row to claim.
func (r *Router) runOnce(ctx context.Context) (processed bool, err error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "routerloop.run_once")
	defer span.End()

	var row *model.InboxRecord
	var enqueuedIDs []int64

	txErr := r.Store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		row, err = store.InboxNextPendingTx(ctx, tx)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}

		span.SetAttributes(attribute.Int64("inbox.id", row.ID))

		replies, perCommandErr := r.process(ctx, row)
		if perCommandErr != nil {
			// Atomic group: a crash mid-dispatch leaves the row pending
			// with last_error set, to be retried by a later pass.
			return store.InboxMarkTx(ctx, tx, row.ID, model.InboxPending, perCommandErr.Error())
		}

		for _, reply := range replies {
			job := r.buildJob(row, reply)
			id, insertErr := store.OutboxInsertTx(ctx, tx, job)
			if insertErr != nil {
				return fmt.Errorf("enqueue reply job: %w", insertErr)
			}
			enqueuedIDs = append(enqueuedIDs, id)
		}

		return store.InboxMarkTx(ctx, tx, row.ID, model.InboxDone, "")
	})
	if txErr != nil {
		span.SetStatus(codes.Error, txErr.Error())
		return false, txErr
	}
	if row == nil {
		return false, nil
	}

	if r.NotifyOut != nil {
		for _, id := range enqueuedIDs {
			r.NotifyOut.Publish(ctx, fmt.Sprint(id))
		}
	}
	return true, nil
}

// process extracts the command string, splits it into sub-commands, and
// executes each one, collecting the reply lines. A parse failure on one
// sub-command never prevents the others from being processed.
func (r *Router) process(ctx context.Context, row *model.InboxRecord) ([]string, error) {
	command := extractCommand(row.Payload)
	subs := parser.Split(command)

	var replies []string
	for _, sub := range subs {
		cmd, err := parser.Parse(sub)
		if err != nil {
			var pe *parser.ParseError
			if ok := asParseError(err, &pe); ok && pe.Pkey != "" {
				replies = append(replies, device.ReplyNAK(pe.Pkey, device.NAKParseError))
			} else {
				slog.Warn("routerloop: dropped unparseable sub-command", "inbox_id", row.ID, "sub", sub)
			}
			continue
		}

		adapter, ok := r.Adapters[cmd.Channel]
		if !ok {
			replies = append(replies, device.ReplyNAK(cmd.Pkey, device.NAKUnknownDevice))
			continue
		}

		reply, err := adapter.Execute(ctx, cmd)
		if err != nil {
			return nil, fmt.Errorf("adapter execute %s: %w", cmd.Pkey, err)
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

func asParseError(err error, target **parser.ParseError) bool {
	pe, ok := err.(*parser.ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func (r *Router) buildJob(row *model.InboxRecord, reply string) model.OutboxJob {
	body, _ := json.Marshal(map[string]string{"msg": reply, "source": "raspi"})
	now := time.Now()
	return model.OutboxJob{
		Method: "POST",
		URL:    r.PeerInboxURL,
		Headers: map[string]string{
			"Content-Type":       "application/json",
			"X-Idempotency-Key":  uuid.NewString(),
			"X-Correlation-Id":   row.IdempotencyKey,
		},
		Body:          body,
		IdempotencyKey: row.IdempotencyKey,
		CorrelationID:  row.IdempotencyKey,
		RetryCount:     0,
		NextAttemptTs:  now,
		State:          model.OutboxPending,
	}
}

// extractCommand probes JSON fields msg, line, text, cmd in order, falling
// back to the raw payload as plaintext. Grounded on router.py's
// _extract_msg_line.
func extractCommand(payload []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err == nil {
		for _, field := range []string{"msg", "line", "text", "cmd"} {
			if v, ok := obj[field]; ok {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
	}
	return string(payload)
}
