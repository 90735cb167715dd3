// Package catalog executes cone-search queries against a photometric catalog.
package catalog

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeout bounds a single catalog query.
const DefaultTimeout = 600 * time.Second

// Row is one catalog source. Magnitudes are dereddened.
type Row struct {
	RA    float64 `json:"ra"`
	Dec   float64 `json:"dec"`
	G     float64 `json:"g"`
	R     float64 `json:"r"`
	ErrG  float64 `json:"err_g"`
	ErrR  float64 `json:"err_r"`
	Flags int64   `json:"flags"`
}

// Kind classifies the outcome of a query.
type Kind int

const (
	KindRows Kind = iota
	KindEmpty
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindRows:
		return "rows"
	case KindEmpty:
		return "empty"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Outcome is the result of one query: rows, a legitimately empty region,
// or a transport failure.
type Outcome struct {
	Kind Kind
	Rows []Row
	Err  error
}

// RowsOutcome builds an outcome from rows, mapping zero rows to KindEmpty.
func RowsOutcome(rows []Row) Outcome {
	if len(rows) == 0 {
		return Outcome{Kind: KindEmpty}
	}
	return Outcome{Kind: KindRows, Rows: rows}
}

// Failed wraps err in a TransportError outcome.
func Failed(op string, err error) Outcome {
	return Outcome{Kind: KindFailed, Err: &TransportError{Op: op, Err: err}}
}

// TransportError reports a failed or timed-out remote query.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client executes a query. Implementations must return within timeout and
// never return KindRows with zero rows.
type Client interface {
	Execute(ctx context.Context, query string, timeout time.Duration) Outcome
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, query string, timeout time.Duration) Outcome

// Execute calls f.
func (f ClientFunc) Execute(ctx context.Context, query string, timeout time.Duration) Outcome {
	return f(ctx, query, timeout)
}
