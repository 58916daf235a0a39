package hqapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (a *API) handleTriggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	run := a.hb.Trigger(r.Context())

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aurelius.heartbeat.run_id", run.ID))

	writeJSON(w, http.StatusAccepted, run)
}

func (a *API) handleListHeartbeats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": a.hb.ListRuns()})
}

func (a *API) handleGetHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run := a.hb.GetRun(id)
	if run == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
