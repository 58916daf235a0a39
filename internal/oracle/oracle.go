// Package oracle defines the classification oracle boundary. The triage
// pipeline consumes oracles through this narrow interface; it never depends
// on a specific model provider.
package oracle

import (
	"context"
	"errors"
)

// ErrUnavailable signals that the oracle could not be reached at all
// (timeout, connection refused, overloaded backend). It is distinct from a
// successful call that produced no useful classification: the pipeline
// falls through to the next tier instead of dropping the item.
var ErrUnavailable = errors.New("oracle unavailable")

// Request carries the item text an oracle classifies.
type Request struct {
	Connector string
	Sender    string
	Subject   string
	Content   string

	// Known batch types the oracle may group the item into. An empty or
	// unknown answer leaves the item in the individual queue.
	BatchTypes []string
}

// Result is a single classification outcome. Any field may be empty; the
// pipeline applies its own defaults.
type Result struct {
	Summary    string   `json:"summary,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	BatchType  string   `json:"batch_type,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Oracle is any classification backend.
type Oracle interface {
	Name() string
	Classify(ctx context.Context, req *Request) (*Result, error)
}
