// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/connector"
	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

var tracer = otel.Tracer("github.com/markwilliams0n/aurelius-hq-sub002/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the PostgreSQL error code for a unique constraint
// violation; on items it means a concurrent sync won the insert race.
const pgUniqueViolation = "23505"

// Store persists triage state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

const itemColumns = `id, connector, external_id, sender, sender_name, subject, content, preview,
	status, priority, tags, batch_type, tier_used, enrichment, raw_payload,
	received_at, created_at, updated_at, snooze_until`

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (*triage.Item, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetItem", "SELECT")
	defer span.End()

	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	it, err := scanItemRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		spanErr(span, err)
		return nil, false, err
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// ItemExists is the dedup point lookup on (connector, external_id).
func (s *Store) ItemExists(ctx context.Context, kind connector.Kind, externalID string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.ItemExists", "SELECT")
	defer span.End()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM items WHERE connector = $1 AND external_id = $2)`,
		string(kind), externalID,
	).Scan(&exists)
	if err != nil {
		spanErr(span, err)
		return false, fmt.Errorf("exists: %w", err)
	}
	return exists, nil
}

// InsertItem inserts a new item, mapping a unique violation on
// (connector, external_id) to triage.ErrDuplicateItem.
func (s *Store) InsertItem(ctx context.Context, it *triage.Item) error {
	ctx, span := startSpan(ctx, "pgstore.InsertItem", "INSERT")
	defer span.End()

	tags, enrichment, err := marshalItemJSON(it)
	if err != nil {
		spanErr(span, err)
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		it.ID, string(it.Connector), it.ExternalID, it.Sender, it.SenderName,
		it.Subject, it.Content, it.Preview, string(it.Status), string(it.Priority),
		tags, it.BatchType, string(it.TierUsed), enrichment, rawOrNil(it.RawPayload),
		it.ReceivedAt, it.CreatedAt, it.UpdatedAt, it.SnoozeUntil,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return triage.ErrDuplicateItem
		}
		spanErr(span, err)
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// UpdateItem overwrites an existing item.
func (s *Store) UpdateItem(ctx context.Context, it *triage.Item) error {
	ctx, span := startSpan(ctx, "pgstore.UpdateItem", "UPDATE")
	defer span.End()

	tags, enrichment, err := marshalItemJSON(it)
	if err != nil {
		spanErr(span, err)
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET
			sender = $2, sender_name = $3, subject = $4, content = $5, preview = $6,
			status = $7, priority = $8, tags = $9, batch_type = $10, tier_used = $11,
			enrichment = $12, updated_at = $13, snooze_until = $14
		 WHERE id = $1`,
		it.ID, it.Sender, it.SenderName, it.Subject, it.Content, it.Preview,
		string(it.Status), string(it.Priority), tags, it.BatchType, string(it.TierUsed),
		enrichment, it.UpdatedAt, it.SnoozeUntil,
	)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrNotFound
	}
	return nil
}

// ListQueue returns individual-queue items ordered by priority band, then
// most recently updated first.
func (s *Store) ListQueue(ctx context.Context) ([]*triage.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.ListQueue", "SELECT")
	defer span.End()

	query := `SELECT ` + itemColumns + ` FROM items
		 WHERE status = 'new' AND batch_type = ''
		 ORDER BY CASE priority
			WHEN 'urgent' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3
		 END, updated_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

const cardColumns = `id, batch_type, title, explanation, item_ids, default_action, created_at, updated_at`

// GetCard retrieves a batch card by ID.
func (s *Store) GetCard(ctx context.Context, id string) (*triage.BatchCard, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCard", "SELECT")
	defer span.End()

	c, err := scanCardRow(s.pool.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM batch_cards WHERE id = $1`, id))
	if err != nil {
		spanErr(span, err)
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// GetCardByType retrieves the card for a batch type.
func (s *Store) GetCardByType(ctx context.Context, batchType string) (*triage.BatchCard, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetCardByType", "SELECT")
	defer span.End()

	c, err := scanCardRow(s.pool.QueryRow(ctx,
		`SELECT `+cardColumns+` FROM batch_cards WHERE batch_type = $1`, batchType))
	if err != nil {
		spanErr(span, err)
		return nil, false, err
	}
	if c == nil {
		return nil, false, nil
	}
	return c, true, nil
}

// PutCard upserts a card.
func (s *Store) PutCard(ctx context.Context, card *triage.BatchCard) error {
	ctx, span := startSpan(ctx, "pgstore.PutCard", "UPSERT")
	defer span.End()

	if err := s.putCard(ctx, s.pool, card); err != nil {
		spanErr(span, err)
		return err
	}
	return nil
}

// DeleteCard removes a card.
func (s *Store) DeleteCard(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.DeleteCard", "DELETE")
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM batch_cards WHERE id = $1`, id); err != nil {
		spanErr(span, err)
		return fmt.Errorf("delete card: %w", err)
	}
	return nil
}

// ListCards returns all cards, newest first.
func (s *Store) ListCards(ctx context.Context) ([]*triage.BatchCard, error) {
	ctx, span := startSpan(ctx, "pgstore.ListCards", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+cardColumns+` FROM batch_cards ORDER BY created_at DESC`)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var out []*triage.BatchCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			spanErr(span, err)
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return out, nil
}

// ResolveCard commits the item updates and the card deletion in one
// transaction, so batch resolution is atomic from the caller's view.
func (s *Store) ResolveCard(ctx context.Context, cardID string, items []*triage.Item) error {
	ctx, span := startSpan(ctx, "pgstore.ResolveCard", "UPDATE")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	for _, it := range items {
		if err := s.updateItemTx(ctx, tx, it); err != nil {
			spanErr(span, err)
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM batch_cards WHERE id = $1`, cardID); err != nil {
		spanErr(span, err)
		return fmt.Errorf("delete card: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		spanErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RestoreResolution re-creates a card and restores item snapshots in one
// transaction (bulk undo).
func (s *Store) RestoreResolution(ctx context.Context, card *triage.BatchCard, items []*triage.Item) error {
	ctx, span := startSpan(ctx, "pgstore.RestoreResolution", "UPSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := s.putCard(ctx, tx, card); err != nil {
		spanErr(span, err)
		return err
	}
	for _, it := range items {
		if err := s.updateItemTx(ctx, tx, it); err != nil {
			spanErr(span, err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		spanErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertRule appends a rule.
func (s *Store) InsertRule(ctx context.Context, r *triage.Rule) error {
	ctx, span := startSpan(ctx, "pgstore.InsertRule", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rules (id, kind, trigger_value, batch_type, source, match_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, string(r.Kind), r.Trigger, r.BatchType, string(r.Source), r.MatchCount, r.CreatedAt,
	)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// IncrementRuleMatch bumps a rule's match count.
func (s *Store) IncrementRuleMatch(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.IncrementRuleMatch", "UPDATE")
	defer span.End()

	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET match_count = match_count + 1 WHERE id = $1`, id)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("increment rule match: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule permanently.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	ctx, span := startSpan(ctx, "pgstore.DeleteRule", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return triage.ErrNotFound
	}
	return nil
}

// ListRules returns all rules, newest first.
func (s *Store) ListRules(ctx context.Context) ([]*triage.Rule, error) {
	ctx, span := startSpan(ctx, "pgstore.ListRules", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, trigger_value, batch_type, source, match_count, created_at
		 FROM rules ORDER BY created_at DESC`)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []*triage.Rule
	for rows.Next() {
		var (
			r            triage.Rule
			kind, source string
		)
		if err := rows.Scan(&r.ID, &kind, &r.Trigger, &r.BatchType, &source, &r.MatchCount, &r.CreatedAt); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Kind = triage.TriggerKind(kind)
		r.Source = triage.RuleSource(source)
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// AppendActivity appends an audit record.
func (s *Store) AppendActivity(ctx context.Context, e *triage.ActivityEntry) error {
	ctx, span := startSpan(ctx, "pgstore.AppendActivity", "INSERT")
	defer span.End()

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO activity_log (id, event_type, metadata, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, e.EventType, metadata, e.CreatedAt,
	)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest records first, up to limit.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]*triage.ActivityEntry, error) {
	ctx, span := startSpan(ctx, "pgstore.ListActivity", "SELECT")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_type, metadata, created_at FROM activity_log
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []*triage.ActivityEntry
	for rows.Next() {
		var (
			e        triage.ActivityEntry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.EventType, &metadata, &e.CreatedAt); err != nil {
			spanErr(span, err)
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				spanErr(span, err)
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) putCard(ctx context.Context, db execer, card *triage.BatchCard) error {
	itemIDs, err := json.Marshal(card.ItemIDs)
	if err != nil {
		return fmt.Errorf("marshal item ids: %w", err)
	}
	_, err = db.Exec(ctx,
		`INSERT INTO batch_cards (`+cardColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			batch_type  = EXCLUDED.batch_type,
			title       = EXCLUDED.title,
			explanation = EXCLUDED.explanation,
			item_ids    = EXCLUDED.item_ids,
			default_action = EXCLUDED.default_action,
			updated_at  = EXCLUDED.updated_at`,
		card.ID, card.BatchType, card.Title, card.Explanation, itemIDs,
		string(card.DefaultAction), card.CreatedAt, card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert card: %w", err)
	}
	return nil
}

func (s *Store) updateItemTx(ctx context.Context, tx pgx.Tx, it *triage.Item) error {
	tags, enrichment, err := marshalItemJSON(it)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE items SET
			status = $2, priority = $3, tags = $4, batch_type = $5, tier_used = $6,
			enrichment = $7, updated_at = $8, snooze_until = $9
		 WHERE id = $1`,
		it.ID, string(it.Status), string(it.Priority), tags, it.BatchType,
		string(it.TierUsed), enrichment, it.UpdatedAt, it.SnoozeUntil,
	)
	if err != nil {
		return fmt.Errorf("update item %s: %w", it.ID, err)
	}
	return nil
}

func marshalItemJSON(it *triage.Item) (tags, enrichment []byte, err error) {
	tagList := it.Tags
	if tagList == nil {
		tagList = []string{}
	}
	tags, err = json.Marshal(tagList)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal tags: %w", err)
	}
	enrichment, err = json.Marshal(it.Enrichment)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal enrichment: %w", err)
	}
	return tags, enrichment, nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func scanItems(rows pgx.Rows) ([]*triage.Item, error) {
	var out []*triage.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (*triage.Item, error) {
	var (
		it                               triage.Item
		conn, status, priority, tier     string
		tags, enrichment, rawPayload     []byte
		snoozeUntil                      *time.Time
	)
	err := row.Scan(
		&it.ID, &conn, &it.ExternalID, &it.Sender, &it.SenderName,
		&it.Subject, &it.Content, &it.Preview, &status, &priority,
		&tags, &it.BatchType, &tier, &enrichment, &rawPayload,
		&it.ReceivedAt, &it.CreatedAt, &it.UpdatedAt, &snoozeUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}

	it.Connector = connector.Kind(conn)
	it.Status = triage.Status(status)
	it.Priority = triage.Priority(priority)
	it.TierUsed = triage.Tier(tier)
	it.SnoozeUntil = snoozeUntil
	if len(rawPayload) > 0 {
		it.RawPayload = json.RawMessage(rawPayload)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &it.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if len(enrichment) > 0 {
		if err := json.Unmarshal(enrichment, &it.Enrichment); err != nil {
			return nil, fmt.Errorf("unmarshal enrichment: %w", err)
		}
	}
	return &it, nil
}

// scanItemRow scans a single item row, returning (nil, nil) when no row is
// found.
func scanItemRow(row pgx.Row) (*triage.Item, error) {
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return it, nil
}

func scanCard(row pgx.Row) (*triage.BatchCard, error) {
	var (
		c             triage.BatchCard
		itemIDs       []byte
		defaultAction string
	)
	err := row.Scan(&c.ID, &c.BatchType, &c.Title, &c.Explanation, &itemIDs,
		&defaultAction, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	c.DefaultAction = triage.Action(defaultAction)
	if len(itemIDs) > 0 {
		if err := json.Unmarshal(itemIDs, &c.ItemIDs); err != nil {
			return nil, fmt.Errorf("unmarshal item ids: %w", err)
		}
	}
	return &c, nil
}

// scanCardRow scans a single card row, returning (nil, nil) when no row is
// found.
func scanCardRow(row pgx.Row) (*triage.BatchCard, error) {
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}
