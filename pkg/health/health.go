// Package health serves liveness and readiness checks.
//
// Each check runs on its own ticker. A check turns unhealthy after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

type checker struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the checker goroutine.
	fails int
	oks   int
}

func newChecker(name string, timeout time.Duration, check CheckFunc) *checker {
	p := &checker{
		name:             name,
		timeout:          timeout,
		check:            check,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
	}
	p.healthy.Store(true)
	return p
}

// run executes the check once. It reports whether health flipped.
func (p *checker) run(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	was := p.healthy.Load()
	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.failureThreshold {
			p.healthy.Store(false)
		}
	} else {
		p.fails = 0
		p.oks++
		if p.oks >= p.successThreshold {
			p.healthy.Store(true)
		}
	}
	return was != p.healthy.Load()
}

func (p *checker) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "check is unhealthy", true
}

// Health holds the checkers of a process. Register checks before Run.
type Health struct {
	ready     atomic.Bool
	liveness  []*checker
	readiness []*checker
}

// New creates a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that restarts the process when failing.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.liveness = append(h.liveness, newChecker(name, timeout, check))
}

// AddReadinessCheck registers a check that takes the process out of
// rotation when failing.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.readiness = append(h.readiness, newChecker(name, timeout, check))
}

// Run executes every check at interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range append(append([]*checker{}, h.liveness...), h.readiness...) {
		g.Go(func() error {
			runChecker(ctx, p, interval)
			return nil
		})
	}
	return g.Wait()
}

func runChecker(ctx context.Context, p *checker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if p.run(ctx) {
			lg := zctx.From(ctx).With(zap.String("check", p.name))
			if msg, failing := p.failure(); failing {
				lg.Warn("Health check failing", zap.String("error", msg))
			} else {
				lg.Info("Health check recovered")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SetReady marks the process ready or draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports readiness: marked ready and every readiness check passing.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.readiness)) == 0
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	f := failures(h.readiness)
	if !h.ready.Load() {
		f["_readiness"] = "service is not ready"
	}
	writeStatus(w, f)
}

func failures(checkers []*checker) map[string]string {
	out := make(map[string]string)
	for _, p := range checkers {
		if msg, failing := p.failure(); failing {
			out[p.name] = msg
		}
	}
	return out
}

// writeStatus writes {"status":"ok"} or 503 with the failing checks.
func writeStatus(w http.ResponseWriter, failed map[string]string) {
	status := http.StatusOK
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		if len(failed) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
