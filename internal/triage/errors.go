package triage

import (
	"errors"
	"fmt"
)

// ErrDuplicateItem is returned by Store.InsertItem when (connector,
// external_id) already exists. Two concurrent syncs can both pass the
// existence check; the loser's insert fails with this and the gate counts
// it as a skip, never as an error.
var ErrDuplicateItem = errors.New("duplicate item")

// ErrInvalidTransition marks a lifecycle request the state machine rejects
// outright (e.g. action-needed on a non-email item, restore of an actioned
// item). The item is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrUnknownAction is returned for action names outside the closed set.
var ErrUnknownAction = errors.New("unknown action")

// ErrNotFound is returned when an item, card, or rule does not exist.
var ErrNotFound = errors.New("not found")

// MalformedItemError wraps a normalization failure for one raw event. The
// gate skips the event, counts it, and moves on.
type MalformedItemError struct {
	Connector  string
	ExternalID string
	Err        error
}

func (e *MalformedItemError) Error() string {
	return fmt.Sprintf("malformed item %s/%s: %v", e.Connector, e.ExternalID, e.Err)
}

func (e *MalformedItemError) Unwrap() error { return e.Err }
