package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/resolve"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
	"github.com/yndnr/otamesh-go/internal/telemetry/metric"
)

// handleReleaseConfig handles GET /v1/release-config.
//
// Every query parameter except device_id is a dimension value. The body is
// the bare ReleaseConfig; 204 means no release applies to the device.
func (h *Handler) handleReleaseConfig(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	req := resolve.Request{
		DeviceID: q.Get("device_id"),
		Context:  make(map[string]string, len(q)),
	}
	for key, values := range q {
		if key == "device_id" || len(values) == 0 {
			continue
		}
		req.Context[key] = values[0]
	}

	rc, res, ok, err := h.svc.Serve.ReleaseConfig(r.Context(), req)
	if err != nil {
		h.svc.Metrics.ObserveResolve(metric.ResolveError, time.Since(start))
		h.handleServiceError(w, r, err)
		return
	}
	if !ok {
		h.svc.Metrics.ObserveResolve(metric.ResolveNoMatch, time.Since(start))
		w.Header().Set("X-Request-ID", getRequestID(r))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.svc.Metrics.ObserveResolve(metric.ResolveMatch, time.Since(start))

	logger.L(r.Context()).Debug("release config served",
		"device_id", req.DeviceID,
		"release", res.Release.ID,
		"specificity", res.Specificity,
		"bucket", res.Bucket)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", getRequestID(r))
	w.Header().Set("X-Release-ID", res.Release.ID)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(rc); err != nil {
		logger.L(r.Context()).Error("failed to encode release config", "error", err)
	}
}

// handleIngestEvents handles POST /v1/events.
func (h *Handler) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	var req IngestEventsRequest
	if !h.decode(w, r, &req, domain.ErrEventValidation) {
		return
	}

	res, err := h.svc.Analytics.Ingest(r.Context(), req.Events)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrEventValidation.Code) {
			h.svc.Metrics.AddEvents(metric.EventRejected, len(req.Events))
		}
		h.handleServiceError(w, r, err)
		return
	}
	h.svc.Metrics.AddEvents(metric.EventAccepted, res.Accepted)
	h.svc.Metrics.AddEvents(metric.EventDuplicate, res.Duplicates)

	h.writeJSON(w, r, http.StatusOK, res)
}
