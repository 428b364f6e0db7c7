// Package sender implements the Sender loop: drains the Outbox with
// Watchdog gating and exponential backoff, per spec §4.7.
package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/notify"
	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/signing"
)

// OutboxStore is the Store surface the Sender loop needs.
type OutboxStore interface {
	OutboxNextDue(ctx context.Context, now time.Time) (*model.OutboxJob, error)
	OutboxMarkDone(ctx context.Context, id int64, status int) error
	OutboxMarkPermanent(ctx context.Context, id int64, status int, reason string) error
	OutboxReschedule(ctx context.Context, id int64, retryCount int, nextAttemptTs time.Time, lastError string, lastStatus int) error
}

// WatchdogReader exposes the gating signal the Sender loop polls.
type WatchdogReader interface {
	State() model.WatchdogState
}

const tracerName = "databridge/sender"

// Sender drains the Outbox. It shares its *http.Client with the Watchdog's
// HTTP prober (spec §5: "single HTTP client... shared... with safe
// concurrent use").
type Sender struct {
	Store      OutboxStore
	Watchdog   WatchdogReader
	Client     *http.Client
	Notify     *notify.Notifier
	RetryBaseS float64
	RetryCapS  float64
	// Retryable4xx names extra status codes, beyond 408/429, to retry
	// instead of treating as permanent (Design Note, operator override).
	Retryable4xx map[int]bool
	// SharedSecret and HMACSecret, if set, add an outbound auth header to
	// every job per Design Note 9, without touching correlation/idempotency.
	SharedSecret string
	HMACSecret   string

	idleSleep time.Duration
}

func New(store OutboxStore, wd WatchdogReader, client *http.Client, n *notify.Notifier, retryBaseS, retryCapS float64) *Sender {
	return &Sender{
		Store:      store,
		Watchdog:   wd,
		Client:     client,
		Notify:     n,
		RetryBaseS: retryBaseS,
		RetryCapS:  retryCapS,
		idleSleep:  100 * time.Millisecond,
	}
}

// NewHTTPClient builds the single pooled client shared by Sender and
// Watchdog, per spec §4.7/§5.
func NewHTTPClient(timeout time.Duration, tlsVerify bool) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !tlsVerify},
		},
	}
}

// Run drains due jobs until ctx is cancelled. Each iteration finishes its
// current HTTP round-trip (bounded by the client's Timeout) before
// checking ctx again, per the shutdown contract in spec §5.
func (s *Sender) Run(ctx context.Context) {
	if s.Notify != nil {
		s.Notify.EnsureGroup(ctx)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx)
	}
}

func (s *Sender) runOnce(ctx context.Context) {
	if s.Watchdog != nil && s.Watchdog.State().Status != model.WatchdogUp {
		s.sleep(ctx)
		return
	}

	job, err := s.Store.OutboxNextDue(ctx, time.Now())
	if err != nil {
		slog.Error("sender: outbox_next_due failed", "error", err)
		s.sleep(ctx)
		return
	}
	if job == nil {
		if s.Notify != nil && s.Notify.Wait(ctx, "sender", s.idleSleep) {
			return
		}
		s.sleep(ctx)
		return
	}

	s.dispatch(context.WithoutCancel(ctx), *job)
}

func (s *Sender) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(s.idleSleep):
	}
}

func (s *Sender) dispatch(ctx context.Context, job model.OutboxJob) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "sender.dispatch", trace.WithAttributes(
		attribute.Int64("outbox.id", job.ID),
		attribute.Int("outbox.retry_count", job.RetryCount),
	))
	defer span.End()

	if _, err := url.ParseRequestURI(job.URL); err != nil || !isAbsoluteHTTPURL(job.URL) {
		span.SetStatus(codes.Error, "invalid url")
		if markErr := s.Store.OutboxMarkPermanent(ctx, job.ID, 0, "invalid url: "+job.URL); markErr != nil {
			slog.Error("sender: mark permanent failed", "id", job.ID, "error", markErr)
		}
		return
	}

	status, errMsg := s.attempt(ctx, job)
	span.SetAttributes(attribute.Int("outbox.last_status", status))

	switch classify(status, errMsg, s.Retryable4xx) {
	case outcomeDone:
		if err := s.Store.OutboxMarkDone(ctx, job.ID, status); err != nil {
			slog.Error("sender: mark done failed", "id", job.ID, "error", err)
		}
	case outcomePermanent:
		span.SetStatus(codes.Error, errMsg)
		if err := s.Store.OutboxMarkPermanent(ctx, job.ID, status, errMsg); err != nil {
			slog.Error("sender: mark permanent failed", "id", job.ID, "error", err)
		}
	case outcomeRetry:
		retryCount := job.RetryCount + 1
		delay := Backoff(retryCount, s.RetryBaseS, s.RetryCapS)
		next := time.Now().Add(delay)
		if err := s.Store.OutboxReschedule(ctx, job.ID, retryCount, next, errMsg, status); err != nil {
			slog.Error("sender: reschedule failed", "id", job.ID, "error", err)
		}
	}
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// attempt performs the HTTP round-trip and returns the status code (0 on
// transport-level failure) and an error message.
func (s *Sender) attempt(ctx context.Context, job model.OutboxJob) (int, string) {
	req, err := http.NewRequestWithContext(ctx, method(job.Method), job.URL, bytes.NewReader(job.Body))
	if err != nil {
		return 0, fmt.Sprintf("build request: %v", err)
	}
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}
	s.signRequest(req, job.Body)

	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, err.Error()
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, ""
	}
	return resp.StatusCode, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

func (s *Sender) signRequest(req *http.Request, body []byte) {
	if s.SharedSecret != "" {
		req.Header.Set("X-Shared-Secret", s.SharedSecret)
	}
	if s.HMACSecret != "" {
		req.Header.Set("X-Hub-Signature-256", signing.Sign(body, s.HMACSecret))
	}
}

func method(m string) string {
	if m == "" {
		return http.MethodPost
	}
	return m
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomePermanent
)

// classify implements the outcome table of spec §4.7: 2xx done; 4xx except
// 408/429 (or an operator-named retryable code) permanent; 408/429/5xx or a
// transport-level error retry.
func classify(status int, errMsg string, retryable4xx map[int]bool) outcome {
	if status == 0 {
		return outcomeRetry // connection error, timeout, TLS error
	}
	if status >= 200 && status < 300 {
		return outcomeDone
	}
	if status == 408 || status == 429 {
		return outcomeRetry
	}
	if status >= 500 {
		return outcomeRetry
	}
	if status >= 400 && status < 500 {
		if retryable4xx[status] {
			return outcomeRetry
		}
		return outcomePermanent
	}
	return outcomeRetry
}

// Backoff implements spec §4.7's schedule:
// delay = min(retry_cap_s, retry_base_s * 2^(retry_count-1)).
func Backoff(retryCount int, retryBaseS, retryCapS float64) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delayS := retryBaseS * math.Pow(2, float64(retryCount-1))
	if delayS > retryCapS {
		delayS = retryCapS
	}
	return time.Duration(delayS * float64(time.Second))
}
