package triage

import "time"

// Action is the closed set of lifecycle transitions. Dispatch goes through
// an exhaustive handler map; names outside this set are rejected with
// ErrUnknownAction rather than silently ignored.
type Action string

const (
	ActionArchive      Action = "archive"
	ActionSpam         Action = "spam"
	ActionSnooze       Action = "snooze"
	ActionRestore      Action = "restore"
	ActionClassify     Action = "classify"
	ActionActionNeeded Action = "action_needed"
	ActionDone         Action = "actioned"
)

// ParseAction validates a wire-level action name against the closed set.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionArchive, ActionSpam, ActionSnooze, ActionRestore,
		ActionClassify, ActionActionNeeded, ActionDone:
		return a, true
	default:
		return "", false
	}
}

// targetStatus maps each action to the status it lands the item in.
// ActionClassify keeps the item in new while moving it onto a card.
func (a Action) targetStatus() Status {
	switch a {
	case ActionArchive:
		return StatusArchived
	case ActionSpam:
		return StatusSpam
	case ActionSnooze:
		return StatusSnoozed
	case ActionRestore, ActionClassify:
		return StatusNew
	case ActionActionNeeded:
		return StatusActionNeeded
	case ActionDone:
		return StatusActioned
	default:
		return StatusNew
	}
}

// ActionRequest carries an action plus its payload.
type ActionRequest struct {
	Action Action

	// SnoozeUntil is required for ActionSnooze.
	SnoozeUntil *time.Time

	// BatchType is required for ActionClassify.
	BatchType string
}

// ActionResult is the synchronous, authoritative outcome of a transition.
// An optimistic UI layer above this core reconciles against it.
type ActionResult struct {
	ItemID      string   `json:"item_id"`
	Status      Status   `json:"status"`
	SideEffects []string `json:"side_effects,omitempty"`
	NoOp        bool     `json:"no_op"`
	Reason      string   `json:"reason,omitempty"`
}
