// Package controller runs the fetch-and-render loop that keeps the display
// in step with the parameter set.
//
// Parameter changes are coalesced into a single pending request slot
// (latest wins). One worker drains the slot, so at most one catalog query
// is outstanding at a time; a fetch that has been superseded by a newer
// request is discarded instead of rendered.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hessmap/server/internal/catalog"
	"github.com/hessmap/server/internal/metrics"
	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
	"github.com/hessmap/server/internal/render"
)

// Config contains controller configuration.
type Config struct {
	Params   *params.Set
	Client   catalog.Client
	Pipeline *render.Pipeline
	Surface  *Surface
	Timeout  time.Duration
	Logger   *slog.Logger
}

// request is one scheduled cycle. seq orders requests by trigger time.
type request struct {
	seq  uint64
	snap params.Snapshot
}

// Controller binds parameter changes to render cycles.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	seq        uint64
	maxVersion uint64
	pending    *request
	ready      chan struct{}

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// New creates a controller. Call Start to begin processing.
func New(cfg Config) (*Controller, error) {
	if cfg.Params == nil || cfg.Client == nil || cfg.Pipeline == nil || cfg.Surface == nil {
		return nil, errors.New("controller: params, client, pipeline and surface are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = catalog.DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "controller"),
		ready:  make(chan struct{}, 1),
	}, nil
}

// Start subscribes to parameter changes, starts the worker and schedules
// the initial cycle.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)

		c.unsubscribe = c.cfg.Params.Subscribe(func(snap params.Snapshot) {
			metrics.ParamChanged()
			c.schedule(snap, false)
		})

		c.wg.Add(1)
		go c.worker(ctx)

		c.schedule(c.cfg.Params.Snapshot(), true)
	})
}

// Stop stops the worker. An in-flight fetch is cancelled and its result
// dropped.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

// Refresh schedules a cycle for the current parameters even if they have
// not changed.
func (c *Controller) Refresh() {
	c.schedule(c.cfg.Params.Snapshot(), true)
}

// schedule puts snap into the pending slot, replacing any older request.
// Snapshots older than one already scheduled are ignored so that
// out-of-order notifications cannot roll the display back.
func (c *Controller) schedule(snap params.Snapshot, force bool) {
	c.mu.Lock()
	if snap.Version < c.maxVersion || (snap.Version == c.maxVersion && !force) {
		c.mu.Unlock()
		return
	}
	c.maxVersion = snap.Version
	c.seq++
	if c.pending != nil {
		c.logger.Debug("coalesced pending request",
			"replaced_generation", c.pending.seq,
			"generation", c.seq,
		)
	}
	c.pending = &request{seq: c.seq, snap: snap}
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

func (c *Controller) take() (request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return request{}, false
	}
	req := *c.pending
	c.pending = nil
	return req, true
}

// superseded reports whether a request newer than seq has been scheduled.
func (c *Controller) superseded(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq > seq
}

func (c *Controller) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.ready:
		}
		req, ok := c.take()
		if !ok {
			continue
		}
		c.runCycle(ctx, req)
	}
}

// runCycle performs build, fetch and render for one request.
func (c *Controller) runCycle(ctx context.Context, req request) {
	start := time.Now()
	snap := req.snap

	q, err := query.Build(snap.Position, snap.Radius)
	var outcome catalog.Outcome
	if err != nil {
		outcome = catalog.Outcome{Kind: catalog.KindFailed, Err: err}
	} else {
		fetchStart := time.Now()
		outcome = c.cfg.Client.Execute(ctx, q, c.cfg.Timeout)
		metrics.ObserveFetch(outcome.Kind.String(), time.Since(fetchStart))
	}

	if ctx.Err() != nil {
		return
	}
	if c.superseded(req.seq) {
		metrics.CycleDiscarded()
		c.logger.Debug("discarding superseded result",
			"generation", req.seq,
			"outcome", outcome.Kind.String(),
		)
		return
	}

	st := c.cfg.Pipeline.Render(outcome, snap.Display)
	st.Generation = req.seq
	st.Params = snap
	st.Query = q
	st.RenderedAt = time.Now()

	if !c.cfg.Surface.Apply(&st) {
		metrics.CycleDiscarded()
		return
	}

	rows := 0
	if st.Summary != nil {
		rows = st.Summary.N
	}
	metrics.CycleDisplayed(string(st.Status), rows)

	attrs := []any{
		"generation", st.Generation,
		"status", string(st.Status),
		"rows", rows,
		"ra", snap.Position.RA,
		"dec", snap.Position.Dec,
		"radius", snap.Radius,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	switch st.Status {
	case render.StatusOK, render.StatusEmpty:
		c.logger.Info("cycle displayed", attrs...)
	default:
		var ipe *query.InvalidParameterError
		var te *catalog.TransportError
		switch {
		case errors.As(st.Cause, &ipe):
			attrs = append(attrs, "cause_kind", "invalid_parameter")
		case errors.As(st.Cause, &te):
			attrs = append(attrs, "cause_kind", "transport", "timeout", errors.Is(te, context.DeadlineExceeded))
		default:
			attrs = append(attrs, "cause_kind", "render")
		}
		c.logger.Warn("cycle displayed blank panels", append(attrs, "error", st.Cause)...)
	}
}
