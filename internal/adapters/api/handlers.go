package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 25 << 20
	maxDays      = 365
)

type handlers struct {
	svc    Service
	logger *zap.Logger
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

type bulkReleaseRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

func (h *handlers) classify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	emails, err := core.DecodeEmails(body, userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	force, _ := strconv.ParseBool(c.Query("force_reprocess"))

	resp, err := h.svc.Classify(c.Request.Context(), emails, core.ClassifyOptions{ForceReprocess: force})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) predict(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	reqs, err := core.DecodeScoreRequests(body)
	if err != nil {
		h.fail(c, err)
		return
	}
	preds, err := h.svc.Predict(c.Request.Context(), reqs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(preds), "predictions": preds})
}

func (h *handlers) release(c *gin.Context) {
	var req releaseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	id := c.Param("id")
	if span := opentracing.SpanFromContext(c.Request.Context()); span != nil {
		tracing.TagEntity(span, id)
	}

	res, err := h.svc.Release(c.Request.Context(), id, userID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Status == core.ReleaseNotFound {
		c.JSON(http.StatusNotFound, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) bulkRelease(c *gin.Context) {
	var req bulkReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.BulkRelease(c.Request.Context(), req.IDs, userID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) stats(c *gin.Context) {
	days, ok := parseDays(c, 7)
	if !ok {
		return
	}
	stats, err := h.svc.GetStats(c.Request.Context(), userID(c), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) quarantineSummary(c *gin.Context) {
	days, ok := parseDays(c, 30)
	if !ok {
		return
	}
	summary, err := h.svc.GetQuarantineSummary(c.Request.Context(), userID(c), days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) health(c *gin.Context) {
	report := h.svc.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if report.Status == core.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (h *handlers) reloadModels(c *gin.Context) {
	version, err := h.svc.ReloadModels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "model_version": version})
}

func parseDays(c *gin.Context, def int) (int, bool) {
	raw := c.Query("days")
	if raw == "" {
		return def, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 1 || days > maxDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be an integer between 1 and 365"})
		return 0, false
	}
	return days, true
}

// fail maps the typed error kinds onto HTTP status codes
func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInputInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", userID(c)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
