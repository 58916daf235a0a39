// Package hqapi exposes the triage queue, batch cards, rules and
// heartbeat runs over HTTP.
package hqapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/heartbeat"
	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

// TriageService defines the business operations hqapi needs.
type TriageService interface {
	Queue(ctx context.Context) ([]*triage.Item, error)
	GetItem(ctx context.Context, id string) (*triage.Item, bool, error)
	ApplyAction(ctx context.Context, itemID string, req triage.ActionRequest) (*triage.ActionResult, error)
	Undo(ctx context.Context) (*triage.ActionResult, error)
	ReclassifyItem(ctx context.Context, itemID, fromBatchType, toBatchType string, sender triage.SenderInfo) (*triage.Item, error)
	Cards(ctx context.Context) ([]*triage.BatchCard, error)
	ResolveBatch(ctx context.Context, cardID string, checkedIDs, uncheckedIDs []string) (*triage.ResolveResult, error)
	UndoBulk(ctx context.Context) (*triage.ResolveResult, error)
	CreateRule(ctx context.Context, kind triage.TriggerKind, trigger, batchType string, source triage.RuleSource) (*triage.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, batchType string) ([]*triage.Rule, error)
	Activity(ctx context.Context, limit int) ([]*triage.ActivityEntry, error)
}

// HeartbeatRunner defines the heartbeat operations hqapi needs.
type HeartbeatRunner interface {
	Trigger(ctx context.Context) *heartbeat.Run
	GetRun(id string) *heartbeat.Run
	ListRuns() []*heartbeat.Run
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
	hb     HeartbeatRunner
}

// New creates a new API handler. hb may be nil when heartbeat endpoints
// are not wanted.
func New(logger log.Logger, svc TriageService, hb HeartbeatRunner) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		hb:     hb,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queue", a.handleQueue)
		r.Get("/items/{id}", a.handleGetItem)
		r.Post("/items/{id}/action", a.handleItemAction)
		r.Post("/items/{id}/reclassify", a.handleReclassify)
		r.Post("/undo", a.handleUndo)
		r.Post("/undo/bulk", a.handleUndoBulk)

		r.Get("/batches", a.handleListBatches)
		r.Post("/batches/{id}/resolve", a.handleResolveBatch)

		r.Get("/rules", a.handleListRules)
		r.Post("/rules", a.handleCreateRule)
		r.Delete("/rules/{id}", a.handleDeleteRule)

		r.Get("/activity", a.handleActivity)

		if a.hb != nil {
			r.Post("/heartbeat", a.handleTriggerHeartbeat)
			r.Get("/heartbeat", a.handleListHeartbeats)
			r.Get("/heartbeat/{id}", a.handleGetHeartbeat)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
