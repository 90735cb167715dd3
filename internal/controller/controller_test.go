package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hessmap/server/internal/catalog"
	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
	"github.com/hessmap/server/internal/render"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	set     *params.Set
	surface *Surface
	ctrl    *Controller
}

func newHarness(t *testing.T, client catalog.Client) *harness {
	t.Helper()

	set, err := params.New(params.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	surface := NewSurface()
	ctrl, err := New(Config{
		Params:   set,
		Client:   client,
		Pipeline: render.NewPipeline(render.Config{DefaultColormap: "viridis", Logger: quietLogger}),
		Surface:  surface,
		Timeout:  5 * time.Second,
		Logger:   quietLogger,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctrl.Start(context.Background())
	t.Cleanup(ctrl.Stop)
	return &harness{set: set, surface: surface, ctrl: ctrl}
}

// waitFor blocks until the displayed state satisfies ok.
func (h *harness) waitFor(t *testing.T, ok func(*render.State) bool) *render.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var gen uint64
	for {
		st, err := h.surface.WaitNewer(ctx, gen)
		if err != nil {
			t.Fatalf("timed out waiting for state (last=%+v)", st)
		}
		if ok(st) {
			return st
		}
		gen = st.Generation
	}
}

// syntheticRows returns n rows with color uniform in [-0.5, 2.5] and g
// uniform in [14, 24] around pos.
func syntheticRows(pos params.SkyPosition, n int) []catalog.Row {
	rng := rand.New(rand.NewPCG(11, 13))
	rows := make([]catalog.Row, n)
	for i := range rows {
		g := query.MagMin + rng.Float64()*(query.MagMax-query.MagMin)
		color := query.ColorMin + rng.Float64()*(query.ColorMax-query.ColorMin)
		rows[i] = catalog.Row{
			RA:  pos.RA + (rng.Float64()-0.5)*0.5,
			Dec: pos.Dec + (rng.Float64()-0.5)*0.5,
			G:   g,
			R:   g - color,
		}
	}
	return rows
}

func TestController_EndToEnd(t *testing.T) {
	var gotQuery atomic.Value
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		gotQuery.Store(q)
		pos, _, err := query.Cone(q)
		if err != nil {
			return catalog.Failed("decode", err)
		}
		return catalog.RowsOutcome(syntheticRows(pos, 500))
	})
	h := newHarness(t, client)

	st := h.waitFor(t, func(*render.State) bool { return true })

	q, _ := gotQuery.Load().(string)
	for _, want := range []string{"229.0128", "-0.1082", "30", "-0.5", "2.5", "14", "24"} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q", want)
		}
	}
	if st.Query != q {
		t.Errorf("state query does not match executed query")
	}

	if st.Status != render.StatusOK {
		t.Fatalf("expected ok, got %q (%v)", st.Status, st.Cause)
	}
	if len(st.Scatter.Points) != 500 {
		t.Errorf("expected 500 scatter points, got %d", len(st.Scatter.Points))
	}
	if got := st.Hess.TotalCount(); got != 500 {
		t.Errorf("expected total binned weight 500, got %d", got)
	}
	if st.Hess.YRange != (render.Range{24, 14}) {
		t.Errorf("expected y range [24,14], got %v", st.Hess.YRange)
	}
	if st.Params.Display != (params.Display{GridSize: 100, Colormap: "viridis"}) {
		t.Errorf("unexpected display params %+v", st.Params.Display)
	}
}

func TestController_EmptyRegion(t *testing.T) {
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		return catalog.RowsOutcome(nil)
	})
	h := newHarness(t, client)

	st := h.waitFor(t, func(*render.State) bool { return true })
	if st.Status != render.StatusEmpty {
		t.Fatalf("expected empty status, got %q", st.Status)
	}
	if !st.Blank() {
		t.Fatal("expected blank panels")
	}
	if st.Scatter.XLabel != render.LabelRA || st.Hess.YLabel != render.LabelMag {
		t.Fatal("blank panels must keep their axis labels")
	}
}

func TestController_TransportFailureIsDistinct(t *testing.T) {
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		return catalog.Failed("fetch", context.DeadlineExceeded)
	})
	h := newHarness(t, client)

	st := h.waitFor(t, func(*render.State) bool { return true })
	if st.Status != render.StatusFailed {
		t.Fatalf("expected failed status, got %q", st.Status)
	}
	var te *catalog.TransportError
	if !errors.As(st.Cause, &te) || !errors.Is(st.Cause, context.DeadlineExceeded) {
		t.Fatalf("expected timeout TransportError, got %v", st.Cause)
	}
	if !st.Blank() {
		t.Fatal("expected blank panels")
	}
}

func TestController_BurstCoalesces(t *testing.T) {
	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	var calls, inFlight, maxInFlight atomic.Int32

	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		calls.Add(1)
		entered <- struct{}{}

		select {
		case <-release:
		case <-ctx.Done():
			return catalog.Failed("fetch", ctx.Err())
		}
		pos, _, _ := query.Cone(q)
		return catalog.RowsOutcome(syntheticRows(pos, 10))
	})
	h := newHarness(t, client)

	// The initial cycle is now blocked inside the fetch.
	<-entered

	const k = 10
	for i := 0; i < k; i++ {
		if _, err := h.set.Write(params.RA, params.ViewEntry, 100+float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	last := h.set.Snapshot()
	close(release)

	st := h.waitFor(t, func(st *render.State) bool { return st.Params.Version == last.Version })

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 catalog calls (initial + one after the burst), got %d", got)
	}
	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("expected at most one outstanding call, got %d", got)
	}
	if st.Params.Position.RA != 109 {
		t.Fatalf("expected final RA 109, got %v", st.Params.Position.RA)
	}
}

func TestController_SupersededResultNeverDisplayed(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		entered <- struct{}{}
		<-release
		pos, _, _ := query.Cone(q)
		return catalog.RowsOutcome(syntheticRows(pos, 3))
	})
	h := newHarness(t, client)

	<-entered
	if _, err := h.set.Write(params.Dec, params.ViewSlider, 45); err != nil {
		t.Fatal(err)
	}
	close(release)

	st := h.waitFor(t, func(*render.State) bool { return true })
	if st.Params.Position.Dec != 45 {
		t.Fatalf("first displayed state came from a superseded cycle: dec=%v", st.Params.Position.Dec)
	}
}

func TestController_DisplayOnlyChangeRerenders(t *testing.T) {
	var calls atomic.Int32
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		calls.Add(1)
		pos, _, _ := query.Cone(q)
		return catalog.RowsOutcome(syntheticRows(pos, 50))
	})
	h := newHarness(t, client)
	h.waitFor(t, func(*render.State) bool { return true })

	if _, err := h.set.SetColormap("ocean"); err != nil {
		t.Fatal(err)
	}
	st := h.waitFor(t, func(st *render.State) bool { return st.Hess.Colormap == "ocean" })
	if st.Status != render.StatusOK {
		t.Fatalf("unexpected status %q", st.Status)
	}
}

func TestController_RefreshRerunsSameParameters(t *testing.T) {
	var calls atomic.Int32
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		calls.Add(1)
		return catalog.RowsOutcome(nil)
	})
	h := newHarness(t, client)
	first := h.waitFor(t, func(*render.State) bool { return true })

	h.ctrl.Refresh()
	second := h.waitFor(t, func(st *render.State) bool { return st.Generation > first.Generation })
	if second.Params != first.Params {
		t.Fatalf("refresh changed parameters: %+v vs %+v", second.Params, first.Params)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestController_StopCancelsFetch(t *testing.T) {
	entered := make(chan struct{}, 1)
	done := make(chan struct{})
	client := catalog.ClientFunc(func(ctx context.Context, q string, timeout time.Duration) catalog.Outcome {
		entered <- struct{}{}
		<-ctx.Done()
		close(done)
		return catalog.Failed("fetch", ctx.Err())
	})
	h := newHarness(t, client)
	<-entered

	h.ctrl.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
	if h.surface.Current() != nil {
		t.Fatal("cancelled cycle must not reach the display")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}
