package catalog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/query"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const sampleCSV = `#Table1
ra,dec,g,r,err_g,err_r,flags
229.01,-0.10,18.5,18.1,0.01,0.02,268435456
229.02,-0.11,21.25,20.0,0.05,0.04,0
`

func TestParseCSV(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	want := []Row{
		{RA: 229.01, Dec: -0.10, G: 18.5, R: 18.1, ErrG: 0.01, ErrR: 0.02, Flags: 268435456},
		{RA: 229.02, Dec: -0.11, G: 21.25, R: 20.0, ErrG: 0.05, ErrR: 0.04, Flags: 0},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestParseCSV_ColumnOrderIndependent(t *testing.T) {
	in := "flags,err_r,err_g,r,g,dec,ra\n7,0.2,0.1,17,18,5,6\n"
	rows, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	want := []Row{{RA: 6, Dec: 5, G: 18, R: 17, ErrG: 0.1, ErrR: 0.2, Flags: 7}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestParseCSV_HeaderOnlyIsEmpty(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("#Table1\nra,dec,g,r,err_g,err_r,flags\n"))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func TestParseCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"missingColumn": "ra,dec,g,r,err_g,err_r\n1,2,3,4,5,6\n",
		"badNumber":     "ra,dec,g,r,err_g,err_r,flags\n1,x,3,4,5,6,0\n",
		"badFlags":      "ra,dec,g,r,err_g,err_r,flags\n1,2,3,4,5,6,0.5\n",
		"shortRecord":   "ra,dec,g,r,err_g,err_r,flags\n1,2,3\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(in)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSkyServer_Execute(t *testing.T) {
	var gotCmd, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCmd = r.URL.Query().Get("cmd")
		gotFormat = r.URL.Query().Get("format")
		io.WriteString(w, sampleCSV)
	}))
	defer srv.Close()

	c := NewSkyServer(SkyServerConfig{URL: srv.URL, Logger: quietLogger})
	out := c.Execute(context.Background(), "SELECT 1", time.Second)

	if out.Kind != KindRows || len(out.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %v/%d (err=%v)", out.Kind, len(out.Rows), out.Err)
	}
	if gotCmd != "SELECT 1" || gotFormat != "csv" {
		t.Fatalf("unexpected request: cmd=%q format=%q", gotCmd, gotFormat)
	}
}

func TestSkyServer_EmptyRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#Table1\nra,dec,g,r,err_g,err_r,flags\n")
	}))
	defer srv.Close()

	out := NewSkyServer(SkyServerConfig{URL: srv.URL, Logger: quietLogger}).
		Execute(context.Background(), "q", time.Second)
	if out.Kind != KindEmpty || out.Err != nil {
		t.Fatalf("expected empty outcome, got %v (err=%v)", out.Kind, out.Err)
	}
}

func TestSkyServer_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		out := NewSkyServer(SkyServerConfig{URL: srv.URL, Logger: quietLogger}).
			Execute(context.Background(), "q", time.Second)
		var te *TransportError
		if out.Kind != KindFailed || !errors.As(out.Err, &te) {
			t.Fatalf("expected TransportError, got %v (err=%v)", out.Kind, out.Err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		out := NewSkyServer(SkyServerConfig{URL: srv.URL, Logger: quietLogger}).
			Execute(context.Background(), "q", 50*time.Millisecond)
		if out.Kind != KindFailed {
			t.Fatalf("expected failure, got %v", out.Kind)
		}
		if !errors.Is(out.Err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", out.Err)
		}
	})
}

func TestSynthetic_Deterministic(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Seed: 7, Density: 0.2, Logger: quietLogger})
	q, err := query.Build(params.SkyPosition{RA: 229.0128, Dec: -0.1082}, 30)
	if err != nil {
		t.Fatal(err)
	}

	a := s.Execute(context.Background(), q, time.Second)
	b := s.Execute(context.Background(), q, time.Second)
	if a.Kind != KindRows {
		t.Fatalf("expected rows, got %v (err=%v)", a.Kind, a.Err)
	}
	if diff := cmp.Diff(a.Rows, b.Rows); diff != "" {
		t.Fatalf("synthetic rows differ between runs:\n%s", diff)
	}

	wantN := int(math.Round(0.2 * math.Pi * 30 * 30))
	if len(a.Rows) != wantN {
		t.Fatalf("expected %d rows, got %d", wantN, len(a.Rows))
	}

	center := params.SkyPosition{RA: 229.0128, Dec: -0.1082}
	for i, r := range a.Rows {
		color := r.G - r.R
		if color < query.ColorMin-1e-9 || color > query.ColorMax+1e-9 {
			t.Fatalf("row %d color %v outside window", i, color)
		}
		if r.G < query.MagMin || r.G > query.MagMax {
			t.Fatalf("row %d g %v outside window", i, r.G)
		}
		if d := separationArcmin(center, params.SkyPosition{RA: r.RA, Dec: r.Dec}); d > 30.01 {
			t.Fatalf("row %d is %.3f arcmin from center", i, d)
		}
	}
}

func TestSynthetic_VoidIsEmpty(t *testing.T) {
	void := params.SkyPosition{RA: 10, Dec: 10}
	s := NewSynthetic(SyntheticConfig{
		Voids:  []Void{{Position: void, Radius: 60}},
		Logger: quietLogger,
	})
	q, _ := query.Build(params.SkyPosition{RA: 10.1, Dec: 10.1}, 5)
	out := s.Execute(context.Background(), q, time.Second)
	if out.Kind != KindEmpty {
		t.Fatalf("expected empty outcome, got %v", out.Kind)
	}
}

func TestSynthetic_LatencyHonorsTimeout(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Latency: time.Second, Logger: quietLogger})
	q, _ := query.Build(params.SkyPosition{RA: 1, Dec: 1}, 1)
	out := s.Execute(context.Background(), q, 20*time.Millisecond)
	var te *TransportError
	if out.Kind != KindFailed || !errors.As(out.Err, &te) {
		t.Fatalf("expected TransportError, got %v (err=%v)", out.Kind, out.Err)
	}
}

func TestSeparationArcmin(t *testing.T) {
	a := params.SkyPosition{RA: 0, Dec: 0}
	b := params.SkyPosition{RA: 0, Dec: 1}
	if d := separationArcmin(a, b); math.Abs(d-60) > 1e-9 {
		t.Fatalf("expected 60 arcmin, got %v", d)
	}
	c := params.SkyPosition{RA: 359.5, Dec: 0}
	d := params.SkyPosition{RA: 0.5, Dec: 0}
	if got := separationArcmin(c, d); math.Abs(got-60) > 1e-6 {
		t.Fatalf("expected 60 arcmin across RA=0, got %v", got)
	}
}
