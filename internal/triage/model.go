package triage

import (
	"encoding/json"
	"time"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
)

// Status tracks where an item is in its lifecycle.
type Status string

const (
	// StatusNew means the item sits in the individual triage queue.
	StatusNew Status = "new"

	// StatusArchived means the item left the queue without action.
	StatusArchived Status = "archived"

	// StatusSpam means the item was marked unwanted.
	StatusSpam Status = "spam"

	// StatusSnoozed means the item is hidden until SnoozeUntil elapses.
	StatusSnoozed Status = "snoozed"

	// StatusActioned means the item was handled (reply sent, task created,
	// explicitly marked done). Terminal; restore does not apply.
	StatusActioned Status = "actioned"

	// StatusActionNeeded flags an email for follow-up with a fixed snooze
	// and a source-side label.
	StatusActionNeeded Status = "action_needed"
)

// Priority orders the individual queue.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Tier records which classification stage produced an item's metadata.
type Tier string

const (
	TierRule      Tier = "rule"
	TierCheap     Tier = "cheap_model"
	TierExpensive Tier = "expensive_model"
	TierNone      Tier = "none"
)

// Enrichment is the structured metadata classification attaches to an item.
type Enrichment struct {
	Summary        string     `json:"summary,omitempty"`
	LinkedEntities []string   `json:"linked_entities,omitempty"`
	ActionNeededAt *time.Time `json:"action_needed_at,omitempty"`
}

// Item is the canonical inbox entry. (Connector, ExternalID) is unique;
// the gate checks it before insert and the store enforces it at insert.
type Item struct {
	ID         string          `json:"id"`
	Connector  connector.Kind  `json:"connector"`
	ExternalID string          `json:"external_id"`
	Sender     string          `json:"sender"`
	SenderName string          `json:"sender_name,omitempty"`
	Subject    string          `json:"subject"`
	Content    string          `json:"content,omitempty"`
	Preview    string          `json:"preview,omitempty"`
	Status     Status          `json:"status"`
	Priority   Priority        `json:"priority"`
	Tags       []string        `json:"tags,omitempty"`
	BatchType  string          `json:"batch_type,omitempty"`
	TierUsed   Tier            `json:"tier_used"`
	Enrichment Enrichment      `json:"enrichment"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
}

// BatchCard is a grouped, bulk-actionable view over items sharing a batch
// type. ItemIDs are weak references; the card never owns the items, and the
// card is deleted once its item list empties.
type BatchCard struct {
	ID            string    `json:"id"`
	BatchType     string    `json:"batch_type"`
	Title         string    `json:"title"`
	Explanation   string    `json:"explanation,omitempty"`
	ItemIDs       []string  `json:"item_ids"`
	DefaultAction Action    `json:"default_action"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TriggerKind is how a rule matches items, from most to least specific.
type TriggerKind string

const (
	TriggerSenderExact    TriggerKind = "sender_exact"
	TriggerSenderDomain   TriggerKind = "sender_domain"
	TriggerSubjectContain TriggerKind = "subject_contains"
	TriggerPattern        TriggerKind = "pattern"
)

// RuleSource records how a rule came to exist.
type RuleSource string

const (
	RuleSourceUserChat     RuleSource = "user_chat"
	RuleSourceReclassifyUI RuleSource = "reclassify_ui"
)

// BatchTypeIndividual as a rule target routes matches to the individual
// queue instead of a batch card.
const BatchTypeIndividual = "individual"

// Rule is a learned or declared trigger-to-batch mapping. Rules are
// append-only: MatchCount only increments, and deletion is permanent but
// never reclassifies items already grouped under the rule.
type Rule struct {
	ID         string      `json:"id"`
	Kind       TriggerKind `json:"kind"`
	Trigger    string      `json:"trigger"`
	BatchType  string      `json:"batch_type"`
	Source     RuleSource  `json:"source"`
	MatchCount int         `json:"match_count"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ActivityEntry is one append-only audit record of a heartbeat run or a
// triage action.
type ActivityEntry struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Classification is the classifier pipeline's output for one item.
type Classification struct {
	Priority  Priority
	Tags      []string
	BatchType string
	Summary   string
	Entities  []string
	Tier      Tier
}

// SyncSummary aggregates one connector's ingestion pass. Per-item failures
// land in Errors/ErrorMessages and never abort the rest of the batch.
type SyncSummary struct {
	Connector     string   `json:"connector"`
	Synced        int      `json:"synced"`
	Skipped       int      `json:"skipped"`
	Errors        int      `json:"errors"`
	ErrorMessages []string `json:"error_messages,omitempty"`
	Duration      float64  `json:"duration_seconds"`
}
