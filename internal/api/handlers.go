package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hessmap/server/internal/params"
	"github.com/hessmap/server/internal/render"
	"github.com/hessmap/server/pkg/colormap"
)

// StateResponse is the JSON view of the displayed state. Point and hex
// arrays are left out; clients fetch the rasterized panels instead.
type StateResponse struct {
	Generation uint64          `json:"generation"`
	Status     render.Status   `json:"status"`
	Cause      string          `json:"cause,omitempty"`
	Params     params.Snapshot `json:"params"`
	Query      string          `json:"query,omitempty"`
	Summary    *render.Summary `json:"summary,omitempty"`
	Points     int             `json:"points"`
	Hexes      int             `json:"hexes"`
	HessTotal  int             `json:"hess_total"`
	ScatterX   render.Range    `json:"scatter_x"`
	ScatterY   render.Range    `json:"scatter_y"`
	HessX      render.Range    `json:"hess_x"`
	HessY      render.Range    `json:"hess_y"`
	RenderedAt time.Time       `json:"rendered_at"`
}

func newStateResponse(st *render.State) StateResponse {
	resp := StateResponse{
		Generation: st.Generation,
		Status:     st.Status,
		Params:     st.Params,
		Query:      st.Query,
		Summary:    st.Summary,
		Points:     len(st.Scatter.Points),
		Hexes:      len(st.Hess.Hexes),
		HessTotal:  st.Hess.TotalCount(),
		ScatterX:   st.Scatter.XRange,
		ScatterY:   st.Scatter.YRange,
		HessX:      st.Hess.XRange,
		HessY:      st.Hess.YRange,
		RenderedAt: st.RenderedAt,
	}
	if st.Cause != nil {
		resp.Cause = st.Cause.Error()
	}
	return resp
}

// writeRequest is the body of PUT /api/params/{name}.
type writeRequest struct {
	Value json.RawMessage `json:"value"`
	View  params.View     `json:"view"`
}

// batchRequest is the body of POST /api/params. Absent fields are left
// unchanged.
type batchRequest struct {
	View     params.View `json:"view"`
	RA       *float64    `json:"ra"`
	Dec      *float64    `json:"dec"`
	Radius   *float64    `json:"radius"`
	GridSize *float64    `json:"grid"`
	Colormap *string     `json:"colormap"`
}

type writeResponse struct {
	Changed bool            `json:"changed"`
	Params  params.Snapshot `json:"params"`
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"title": h.cfg.Title}
	if h.cfg.Cache != nil {
		resp["cache"] = h.cfg.Cache.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) controls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Controls(colormap.Names()))
}

func (h *handlers) getParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Params.Snapshot())
}

func (h *handlers) writeParam(w http.ResponseWriter, r *http.Request) {
	name := params.Name(chi.URLParam(r, "name"))

	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.View == "" {
		req.View = params.ViewEntry
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("missing value"))
		return
	}

	var (
		changed bool
		err     error
	)
	if name == params.Colormap {
		var cmap string
		if err := json.Unmarshal(req.Value, &cmap); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("colormap value must be a string"))
			return
		}
		changed, err = h.cfg.Params.SetColormap(cmap)
	} else {
		var v float64
		if err := json.Unmarshal(req.Value, &v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s value must be a number", name))
			return
		}
		changed, err = h.cfg.Params.Write(name, req.View, v)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if changed {
		h.logger.Debug("parameter written", "name", string(name), "view", string(req.View))
	}
	writeJSON(w, http.StatusOK, writeResponse{Changed: changed, Params: h.cfg.Params.Snapshot()})
}

func (h *handlers) updateParams(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.View == "" {
		req.View = params.ViewEntry
	}

	changed, err := h.cfg.Params.Update(func(b *params.Batch) {
		for _, f := range []struct {
			name params.Name
			v    *float64
		}{
			{params.RA, req.RA},
			{params.Dec, req.Dec},
			{params.Radius, req.Radius},
			{params.GridSize, req.GridSize},
		} {
			if f.v != nil {
				b.Write(f.name, req.View, *f.v)
			}
		}
		if req.Colormap != nil {
			b.SetColormap(*req.Colormap)
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, writeResponse{Changed: changed, Params: h.cfg.Params.Snapshot()})
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("refresh not available"))
		return
	}
	h.cfg.Refresher.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

// state returns the displayed state. With after=N it waits up to wait for
// a state newer than generation N.
func (h *handlers) state(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after uint64
	if s := q.Get("after"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid after"))
			return
		}
		after = v
	}
	wait, err := parseWait(q.Get("wait"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if wait > h.cfg.MaxWait {
		wait = h.cfg.MaxWait
	}

	st := h.cfg.Surface.Current()
	if wait > 0 && (st == nil || st.Generation <= after) {
		ctx, cancel := waitContext(r, wait)
		st, _ = h.cfg.Surface.WaitNewer(ctx, after)
		cancel()
	}

	if st == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(st))
}

func (h *handlers) query(w http.ResponseWriter, r *http.Request) {
	q, err := currentQuery(h.cfg.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(q))
}

func (h *handlers) panel(w http.ResponseWriter, r *http.Request) {
	kind, err := render.ParsePanelKind(chi.URLParam(r, "panel"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	width, height := h.cfg.Rasterizer.Size()
	if width, err = sizeParam(r, "w", width); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if height, err = sizeParam(r, "h", height); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	st := h.cfg.Surface.Current()
	if st == nil {
		http.Error(w, errNoState.Error(), http.StatusServiceUnavailable)
		return
	}

	data, err := h.cfg.Rasterizer.PNG(st, kind, width, height)
	if err != nil {
		h.logger.Error("failed to render panel", "panel", string(kind), "generation", st.Generation, "error", err)
		http.Error(w, "failed to render panel", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Generation", strconv.FormatUint(st.Generation, 10))
	w.Write(data)
}

const maxPanelSize = 4096

func sizeParam(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 64 || v > maxPanelSize {
		return 0, fmt.Errorf("invalid %s: must be an integer in [64, %d]", key, maxPanelSize)
	}
	return v, nil
}
