// Package connector defines the contract between the triage core and the
// per-source API clients (email, chat, issue tracker, notes). The clients
// themselves live outside this repository; the core only consumes raw
// events and normalized drafts through these interfaces.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies which source system produced an event.
type Kind string

const (
	KindEmail   Kind = "email"
	KindChat    Kind = "chat"
	KindTracker Kind = "tracker"
	KindNotes   Kind = "notes"
)

// RawEvent is one unparsed event from a source system. Payload is the
// untouched source blob and is carried through to the stored item as-is.
type RawEvent struct {
	ExternalID string
	ReceivedAt time.Time
	Payload    json.RawMessage
}

// Draft is a normalized event ready for ingestion. The gate assigns the
// item ID and timestamps on insert.
type Draft struct {
	Connector     Kind
	ExternalID    string
	Sender        string
	SenderName    string
	Subject       string
	Content       string
	Preview       string
	DirectMention bool
	ReceivedAt    time.Time
	RawPayload    json.RawMessage
}

// Connector is one source of raw events.
type Connector interface {
	Name() string
	Kind() Kind

	// Sync fetches raw events newer than since. A TransientError return is
	// recorded and retried on the next heartbeat.
	Sync(ctx context.Context, since time.Time) ([]RawEvent, error)

	// Normalize converts a raw event to a draft. A failure here affects only
	// the one event, never the rest of the batch.
	Normalize(ev RawEvent) (*Draft, error)
}

// Labeler is implemented by connectors that can apply a label to the source
// object (the email connector, for the action-needed flow). The label call
// is best-effort; a failure never blocks the lifecycle transition.
type Labeler interface {
	ApplyLabel(ctx context.Context, externalID, label string) error
}

// TransientError marks a connector failure that is expected to clear on its
// own (rate limit, network blip). The heartbeat records it and retries the
// connector on the next run.
type TransientError struct {
	Connector string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("connector %s: transient: %v", e.Connector, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
