package hqapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markwilliams0n/aurelius-hq-sub002/internal/triage"
)

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.svc.ListRules(r.Context(), r.URL.Query().Get("batch_type"))
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list rules")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

type createRuleRequest struct {
	Kind      string `json:"kind"`
	Trigger   string `json:"trigger"`
	BatchType string `json:"batch_type"`
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	kind := triage.TriggerKind(req.Kind)
	switch kind {
	case triage.TriggerSenderExact, triage.TriggerSenderDomain,
		triage.TriggerSubjectContain, triage.TriggerPattern:
	default:
		writeError(w, http.StatusBadRequest, "unknown trigger kind: "+req.Kind)
		return
	}
	if strings.TrimSpace(req.Trigger) == "" {
		writeError(w, http.StatusBadRequest, "trigger must not be empty")
		return
	}

	rule, err := a.svc.CreateRule(r.Context(), kind, req.Trigger, req.BatchType, triage.RuleSourceUserChat)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to create rule")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := a.svc.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, triage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to delete rule", "rule_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
