package params

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newSet(t *testing.T) *Set {
	t.Helper()
	s, err := New(Defaults())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_Defaults(t *testing.T) {
	s := newSet(t)
	want := Snapshot{
		Version:  1,
		Position: SkyPosition{RA: 229.0128, Dec: -0.1082},
		Radius:   30,
		Display:  Display{GridSize: 100, Colormap: "viridis"},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Fatalf("unexpected defaults (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		ctl  Name
		view View
		in   float64
		want float64
	}{
		{"entryKeepsPrecision", RA, ViewEntry, 229.0128, 229.0128},
		{"sliderSnaps", RA, ViewSlider, 229.0128, 229.0},
		{"raWrapsNegative", RA, ViewEntry, -10, 350},
		{"raWrapsFull", RA, ViewEntry, 360, 0},
		{"raSliderWrapsAtTop", RA, ViewSlider, 359.97, 0},
		{"decClampsHigh", Dec, ViewEntry, 95, 90},
		{"decClampsLow", Dec, ViewSlider, -100, -90},
		{"radiusClampsLow", Radius, ViewEntry, 0.2, 1},
		{"radiusSliderStep", Radius, ViewSlider, 30.4, 30},
		{"gridEntrySnaps", GridSize, ViewEntry, 99.6, 100},
		{"gridClamps", GridSize, ViewSlider, 1000, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Domains[tt.ctl].Normalize(tt.view, tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("Normalize(%v, %v) = %v, want %v", tt.view, tt.in, got, tt.want)
			}
		})
	}
}

func TestWrite_RejectsNonFinite(t *testing.T) {
	s := newSet(t)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := s.Write(Radius, ViewEntry, v)
		if !errors.Is(err, ErrNonFinite) {
			t.Fatalf("Write(%v): expected ErrNonFinite, got %v", v, err)
		}
	}
	if s.Snapshot().Radius != 30 {
		t.Fatalf("rejected write must not change the value")
	}
}

func TestWrite_UnknownControlAndView(t *testing.T) {
	s := newSet(t)
	if _, err := s.Write("zoom", ViewEntry, 1); !errors.Is(err, ErrUnknownControl) {
		t.Fatalf("expected ErrUnknownControl, got %v", err)
	}
	if _, err := s.Write(RA, "knob", 1); !errors.Is(err, ErrUnknownView) {
		t.Fatalf("expected ErrUnknownView, got %v", err)
	}
	if _, err := s.SetColormap("jet"); !errors.Is(err, ErrUnknownColormap) {
		t.Fatalf("expected ErrUnknownColormap, got %v", err)
	}
}

func TestLinkedViews_OneNotificationPerWrite(t *testing.T) {
	s := newSet(t)

	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap) })
	defer unsubscribe()

	if _, err := s.Write(RA, ViewSlider, 180); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write(RA, ViewEntry, 180.25); err != nil {
		t.Fatal(err)
	}
	// Same value through the other view is not a change.
	if changed, err := s.Write(RA, ViewSlider, 180.0); err != nil || !changed {
		t.Fatalf("expected change back to 180, changed=%v err=%v", changed, err)
	}
	if changed, _ := s.Write(RA, ViewEntry, 180); changed {
		t.Fatalf("writing the current value must not notify")
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(got))
	}
	for i, snap := range got {
		if snap.Version != uint64(i+2) {
			t.Errorf("notification %d: version %d", i, snap.Version)
		}
	}
	if got[1].Position.RA != 180.25 {
		t.Errorf("entry view value lost: %v", got[1].Position.RA)
	}
}

func TestUpdate_AtomicBatch(t *testing.T) {
	s := newSet(t)

	calls := 0
	s.Subscribe(func(Snapshot) { calls++ })

	_, err := s.Update(func(b *Batch) {
		b.Write(RA, ViewEntry, 10)
		b.Write(Dec, ViewEntry, 20)
		b.SetColormap("magma")
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}

	_, err = s.Update(func(b *Batch) {
		b.Write(RA, ViewEntry, 11)
		b.Write(Dec, ViewEntry, math.NaN())
	})
	if err == nil {
		t.Fatal("expected error")
	}
	snap := s.Snapshot()
	if snap.Position.RA != 10 || snap.Display.Colormap != "magma" {
		t.Fatalf("failed batch must not apply partially: %+v", snap)
	}
	if calls != 1 {
		t.Fatalf("failed batch must not notify")
	}
}

func TestSnapshot_ConcurrentWriters(t *testing.T) {
	s := newSet(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Update(func(b *Batch) {
					b.Write(RA, ViewEntry, float64(i))
					b.Write(Dec, ViewEntry, float64(i))
				})
				snap := s.Snapshot()
				if snap.Position.RA != snap.Position.Dec {
					t.Errorf("torn snapshot: %+v", snap.Position)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}
