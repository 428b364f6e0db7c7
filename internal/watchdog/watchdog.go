// Package watchdog periodically probes peer reachability and publishes an
// up/down state machine the Sender loop gates on.
package watchdog

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// Prober performs one reachability check and reports success.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) bool
}

// Watchdog runs one probe per interval, combining whichever of ICMP/HTTP
// checks are configured, and exposes the resulting up/down state to
// readers via State(). Grounded on watchdog.py's tick(), with the
// pass condition changed per spec §4.5 to "any configured check passes"
// rather than the original's "all configured checks pass".
type Watchdog struct {
	probers    []Prober
	interval   time.Duration
	timeout    time.Duration
	downAfter  int

	mu    sync.RWMutex
	state model.WatchdogState
}

func New(probers []Prober, interval, timeout time.Duration, downAfter int) *Watchdog {
	if downAfter < 1 {
		downAfter = 1
	}
	return &Watchdog{
		probers:   probers,
		interval:  interval,
		timeout:   timeout,
		downAfter: downAfter,
		state:     model.WatchdogState{Status: model.WatchdogUnknown},
	}
}

// State returns the current watchdog state.
func (w *Watchdog) State() model.WatchdogState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Tick runs a single probe round synchronously and updates state. Run runs
// this on w.interval until ctx is cancelled.
func (w *Watchdog) Tick(ctx context.Context) model.WatchdogState {
	now := time.Now()
	pass := w.probeOnce(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.state.LastProbeTs = now
	if pass {
		w.state.ConsecutiveFailures = 0
		if w.state.Status != model.WatchdogUp {
			w.state.SinceTs = now
		}
		w.state.Status = model.WatchdogUp
	} else {
		w.state.ConsecutiveFailures++
		if w.state.ConsecutiveFailures >= w.downAfter && w.state.Status != model.WatchdogDown {
			w.state.Status = model.WatchdogDown
			w.state.SinceTs = now
		}
	}
	return w.state
}

// probeOnce passes if at least one configured Prober succeeds. With no
// probers configured it always passes (nothing gates the Sender).
func (w *Watchdog) probeOnce(ctx context.Context) bool {
	if len(w.probers) == 0 {
		return true
	}
	for _, p := range w.probers {
		if p.Probe(ctx, w.timeout) {
			return true
		}
	}
	return false
}

// Run probes every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// HTTPProber checks health via GET against a shared *http.Client.
type HTTPProber struct {
	Client *http.Client
	URL    string
}

func (p *HTTPProber) Probe(ctx context.Context, timeout time.Duration) bool {
	if p.URL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
