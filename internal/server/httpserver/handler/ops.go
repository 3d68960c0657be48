package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/resolve"
	"github.com/yndnr/otamesh-go/internal/core/service"
	"github.com/yndnr/otamesh-go/internal/storage"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
)

// handlePreview handles POST /admin/v1/resolve/preview.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req, domain.ErrInvalidArgument) {
		return
	}
	p, err := h.svc.Serve.Preview(r.Context(), resolve.Request{
		DeviceID: req.DeviceID,
		Context:  req.Context,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, p)
}

// handleAdoption handles
// GET /admin/v1/analytics/adoption?release_id=&interval=&from=&to=.
func (h *Handler) handleAdoption(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &service.AdoptionRequest{ReleaseID: q.Get("release_id")}

	if s := q.Get("interval"); s != "" {
		interval, err := domain.ParseInterval(s)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		req.Interval = interval
	}
	var err error
	if req.From, err = parseTime(q.Get("from")); err != nil {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetailsf("from: %v", err))
		return
	}
	if req.To, err = parseTime(q.Get("to")); err != nil {
		h.handleServiceError(w, r, domain.ErrInvalidArgument.WithDetailsf("to: %v", err))
		return
	}

	report, err := h.svc.Analytics.Adoption(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, report)
}

// parseTime accepts RFC 3339 or unix milliseconds. Empty yields zero.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// handleBackup handles GET /admin/v1/backup. The body is a zstd stream of
// every key in the store.
func (h *Handler) handleBackup(w http.ResponseWriter, r *http.Request) {
	if h.svc.KV == nil {
		h.handleServiceError(w, r, domain.ErrServiceUnavailable.WithDetails("backup not configured"))
		return
	}

	cw := &countingWriter{w: w}
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="otamesh-%s.kv.zst"`, time.Now().UTC().Format("20060102T150405Z")))

	n, err := storage.WriteBackup(r.Context(), h.svc.KV, cw)
	if err != nil {
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			h.handleServiceError(w, r, domain.ErrStorageError.WithCause(err))
			return
		}
		logger.L(r.Context()).Error("backup aborted", "written", cw.n, "error", err)
		return
	}
	logger.L(r.Context()).Info("backup written", "bytes", n, "compressed_bytes", cw.n)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
