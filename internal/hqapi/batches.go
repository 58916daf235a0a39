package hqapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

func (a *API) handleListBatches(w http.ResponseWriter, r *http.Request) {
	cards, err := a.svc.Cards(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list batch cards")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": cards})
}

type resolveRequest struct {
	Checked   []string `json:"checked"`
	Unchecked []string `json:"unchecked"`
}

func (a *API) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aurelius.batch.id", id))

	res, err := a.svc.ResolveBatch(r.Context(), id, req.Checked, req.Unchecked)
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "batch resolution failed", "card_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(
		attribute.Int("aurelius.batch.resolved", len(res.Resolved)),
		attribute.Int("aurelius.batch.released", len(res.Released)),
	)
	writeJSON(w, http.StatusOK, res)
}
