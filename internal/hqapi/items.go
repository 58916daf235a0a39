package hqapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Queue(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list queue")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aurelius.item.id", id))

	it, ok, err := a.svc.GetItem(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get item", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	span.SetAttributes(attribute.String("aurelius.item.status", string(it.Status)))
	writeJSON(w, http.StatusOK, it)
}

type actionRequest struct {
	Action      string     `json:"action"`
	SnoozeUntil *time.Time `json:"snooze_until,omitempty"`
	BatchType   string     `json:"batch_type,omitempty"`
}

func (a *API) handleItemAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	action, ok := triage.ParseAction(req.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("aurelius.item.id", id),
		attribute.String("aurelius.action", string(action)),
	)

	res, err := a.svc.ApplyAction(r.Context(), id, triage.ActionRequest{
		Action:      action,
		SnoozeUntil: req.SnoozeUntil,
		BatchType:   req.BatchType,
	})
	if err != nil {
		switch {
		case errors.Is(err, triage.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, triage.ErrUnknownAction):
			writeError(w, http.StatusBadRequest, "unknown action: "+req.Action)
		default:
			a.logger.Error(r.Context(), err, "action failed", "id", id, "action", req.Action)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	// Rejected transitions come back as no-op results, not errors; the
	// caller gets the authoritative state either way.
	writeJSON(w, http.StatusOK, res)
}

type reclassifyRequest struct {
	FromBatchType string `json:"from_batch_type"`
	ToBatchType   string `json:"to_batch_type"`
	SenderEmail   string `json:"sender_email"`
	SenderName    string `json:"sender_name,omitempty"`
}

func (a *API) handleReclassify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("aurelius.item.id", id),
		attribute.String("aurelius.batch.to", req.ToBatchType),
	)

	it, err := a.svc.ReclassifyItem(r.Context(), id, req.FromBatchType, req.ToBatchType, triage.SenderInfo{
		Email: req.SenderEmail,
		Name:  req.SenderName,
	})
	if err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "reclassify failed", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (a *API) handleUndo(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Undo(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "undo failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleUndoBulk(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.UndoBulk(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "bulk undo failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := a.svc.Activity(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list activity")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": entries})
}
