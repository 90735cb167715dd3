// Package params holds the session's control values.
//
// Each numeric control is a single value cell. Linked controls (RA, Dec,
// radius) expose two views of that cell, a precise entry and a coarse
// slider; writes through either view land in the same cell, so the views
// can never disagree and one write produces one change notification.
package params

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hessmap/server/pkg/colormap"
)

// Name identifies a control.
type Name string

const (
	RA       Name = "ra"
	Dec      Name = "dec"
	Radius   Name = "radius"
	GridSize Name = "grid"
	Colormap Name = "colormap"
)

// View identifies which widget a write came from.
type View string

const (
	ViewEntry  View = "entry"
	ViewSlider View = "slider"
)

var (
	ErrUnknownControl  = errors.New("unknown control")
	ErrUnknownView     = errors.New("unknown view")
	ErrNonFinite       = errors.New("value is not finite")
	ErrUnknownColormap = errors.New("unknown colormap")
)

// SkyPosition is a point on the celestial sphere in degrees.
type SkyPosition struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Display holds the parameters that affect rendering only.
type Display struct {
	GridSize int    `json:"grid"`
	Colormap string `json:"colormap"`
}

// Snapshot is an immutable copy of every control value. Version increases
// by one for every committed change.
type Snapshot struct {
	Version  uint64      `json:"version"`
	Position SkyPosition `json:"position"`
	Radius   float64     `json:"radius"`
	Display  Display     `json:"display"`
}

// Domain describes the accepted range of a numeric control.
type Domain struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Step   float64 `json:"step"`
	Wrap   bool    `json:"wrap,omitempty"`
	Linked bool    `json:"linked"`
}

// Domains of the numeric controls.
var Domains = map[Name]Domain{
	RA:       {Min: 0, Max: 360, Step: 0.1, Wrap: true, Linked: true},
	Dec:      {Min: -90, Max: 90, Step: 0.1, Linked: true},
	Radius:   {Min: 1, Max: 120, Step: 1, Linked: true},
	GridSize: {Min: 50, Max: 300, Step: 1},
}

// Defaults returns the initial session values.
func Defaults() Snapshot {
	return Snapshot{
		Position: SkyPosition{RA: 229.0128, Dec: -0.1082},
		Radius:   30,
		Display:  Display{GridSize: 100, Colormap: "viridis"},
	}
}

// Normalize maps v into the domain as the widget for view would.
// Entry writes are clamped (or wrapped); slider writes are additionally
// snapped to the slider step. Integer controls always snap.
func (d Domain) Normalize(view View, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinite
	}
	switch view {
	case ViewEntry, ViewSlider:
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}

	if d.Wrap {
		span := d.Max - d.Min
		v = math.Mod(v-d.Min, span)
		if v < 0 {
			v += span
		}
		v += d.Min
	}

	if view == ViewSlider || !d.Linked {
		v = d.Min + math.Round((v-d.Min)/d.Step)*d.Step
		// strip float noise from the snap
		v = math.Round(v*1e9) / 1e9
	}

	if d.Wrap && v >= d.Max {
		v = d.Min
	}
	if v < d.Min {
		v = d.Min
	}
	if v > d.Max {
		v = d.Max
	}
	return v, nil
}

// Set is the session's parameter set. It is safe for concurrent use.
type Set struct {
	mu     sync.RWMutex
	cur    Snapshot
	subs   map[int]func(Snapshot)
	nextID int
}

// New creates a parameter set from initial values. Values outside their
// domains are normalized as entry writes would be.
func New(initial Snapshot) (*Set, error) {
	b := &Batch{next: initial}
	b.Write(RA, ViewEntry, initial.Position.RA)
	b.Write(Dec, ViewEntry, initial.Position.Dec)
	b.Write(Radius, ViewEntry, initial.Radius)
	b.Write(GridSize, ViewSlider, float64(initial.Display.GridSize))
	b.SetColormap(initial.Display.Colormap)
	if b.err != nil {
		return nil, b.err
	}
	b.next.Version = 1
	return &Set{cur: b.next, subs: make(map[int]func(Snapshot))}, nil
}

// Snapshot returns the current values atomically.
func (s *Set) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Version returns the version of the current values.
func (s *Set) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Version
}

// Subscribe registers fn to be called after every committed change.
// fn runs on the writer's goroutine and must not block.
func (s *Set) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Write sets a numeric control through one of its views.
func (s *Set) Write(name Name, view View, v float64) (bool, error) {
	return s.Update(func(b *Batch) {
		b.Write(name, view, v)
	})
}

// SetColormap selects the Hess diagram palette.
func (s *Set) SetColormap(name string) (bool, error) {
	return s.Update(func(b *Batch) {
		b.SetColormap(name)
	})
}

// Update applies every write in fn atomically. Subscribers are notified
// once if any value changed. If any write fails nothing is applied.
func (s *Set) Update(fn func(b *Batch)) (bool, error) {
	s.mu.Lock()
	b := &Batch{next: s.cur}
	fn(b)
	if b.err != nil {
		s.mu.Unlock()
		return false, b.err
	}
	if b.next == s.cur {
		s.mu.Unlock()
		return false, nil
	}
	b.next.Version = s.cur.Version + 1
	s.cur = b.next
	snap := s.cur
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return true, nil
}

// Batch collects writes for Update. The first error wins.
type Batch struct {
	next Snapshot
	err  error
}

// Write stages a numeric control write.
func (b *Batch) Write(name Name, view View, v float64) {
	if b.err != nil {
		return
	}
	d, ok := Domains[name]
	if !ok {
		b.err = fmt.Errorf("%w: %q", ErrUnknownControl, name)
		return
	}
	nv, err := d.Normalize(view, v)
	if err != nil {
		b.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	switch name {
	case RA:
		b.next.Position.RA = nv
	case Dec:
		b.next.Position.Dec = nv
	case Radius:
		b.next.Radius = nv
	case GridSize:
		b.next.Display.GridSize = int(nv)
	}
}

// SetColormap stages a palette change.
func (b *Batch) SetColormap(name string) {
	if b.err != nil {
		return
	}
	if !colormap.Valid(name) {
		b.err = fmt.Errorf("%w: %q", ErrUnknownColormap, name)
		return
	}
	b.next.Display.Colormap = name
}
