package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSkyServerURL is the SDSS DR18 SQL search endpoint.
const DefaultSkyServerURL = "https://skyserver.sdss.org/dr18/SkyServerWS/SearchTools/SqlSearch"

// requiredColumns are the result columns every response must carry.
var requiredColumns = []string{"ra", "dec", "g", "r", "err_g", "err_r", "flags"}

// SkyServerConfig contains SkyServer client configuration.
type SkyServerConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// SkyServer runs queries against the SDSS SkyServer SqlSearch service.
type SkyServer struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewSkyServer creates a SkyServer client.
func NewSkyServer(cfg SkyServerConfig) *SkyServer {
	if cfg.URL == "" {
		cfg.URL = DefaultSkyServerURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SkyServer{
		url:    cfg.URL,
		http:   cfg.HTTPClient,
		logger: cfg.Logger.With("component", "skyserver"),
	}
}

// Execute runs query with a deadline of timeout.
func (s *SkyServer) Execute(ctx context.Context, query string, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(s.url)
	if err != nil {
		return Failed("request", fmt.Errorf("invalid endpoint %q: %w", s.url, err))
	}
	q := u.Query()
	q.Set("cmd", query)
	q.Set("format", "csv")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Failed("request", err)
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return Failed("fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Failed("fetch", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	rows, err := ParseCSV(resp.Body)
	if err != nil {
		return Failed("decode", err)
	}

	s.logger.Debug("query complete",
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return RowsOutcome(rows)
}

// ParseCSV decodes a SkyServer CSV response. Banner lines starting with '#'
// are skipped; the header must name every required column.
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cols := make([]int, len(requiredColumns))
	for i, name := range requiredColumns {
		c, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q in header %v", name, header)
		}
		cols[i] = c
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}

		var vals [6]float64
		for i := 0; i < 6; i++ {
			if cols[i] >= len(rec) {
				return nil, fmt.Errorf("line %d: short record", line)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[i]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, requiredColumns[i], err)
			}
			vals[i] = v
		}
		if cols[6] >= len(rec) {
			return nil, fmt.Errorf("line %d: short record", line)
		}
		flags, err := strconv.ParseInt(strings.TrimSpace(rec[cols[6]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d column flags: %w", line, err)
		}

		rows = append(rows, Row{
			RA:    vals[0],
			Dec:   vals[1],
			G:     vals[2],
			R:     vals[3],
			ErrG:  vals[4],
			ErrR:  vals[5],
			Flags: flags,
		})
	}
	return rows, nil
}
