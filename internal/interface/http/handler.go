package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/sunspot/internal/domain/precompute"
	"github.com/yanqian/sunspot/internal/domain/timeline"
	"github.com/yanqian/sunspot/internal/infra/config"
	"github.com/yanqian/sunspot/pkg/util"
)

// TimelineService answers exposure queries.
type TimelineService interface {
	Exposure(ctx context.Context, patioID string, at time.Time) (timeline.Exposure, error)
	Batch(ctx context.Context, patioIDs []string, at time.Time) (timeline.BatchResult, error)
	Timeline(ctx context.Context, req timeline.Request) (timeline.Timeline, error)
}

// PrecomputeService serves materialized schedules and admin recomputes.
type PrecomputeService interface {
	Schedule(ctx context.Context, patioID string, date time.Time) (timeline.DaySchedule, error)
	EnqueueRecompute(ctx context.Context, patioID string) error
	LatestRun(ctx context.Context) (precompute.JobRun, bool, error)
}

// Handler wires the HTTP transport to domain services.
type Handler struct {
	timeline    TimelineService
	precompute  PrecomputeService
	defaultLoc  *time.Location
	defaultSpan time.Duration
	clock       util.Clock
	logger      *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(cfg *config.Config, timelineSvc TimelineService, precomputeSvc PrecomputeService, logger *slog.Logger) *Handler {
	return &Handler{
		timeline:    timelineSvc,
		precompute:  precomputeSvc,
		defaultLoc:  util.LoadLocation(cfg.Timeline.DefaultTimezone, time.UTC),
		defaultSpan: 24 * time.Hour,
		clock:       util.NowUTC,
		logger:      logger.With("component", "http.handler"),
	}
}

type batchRequest struct {
	PatioIDs []string   `json:"patioIds" binding:"required,dive,required"`
	At       *time.Time `json:"at"`
}

// Exposure returns one patio's exposure at ?at= (default now).
func (h *Handler) Exposure(c *gin.Context) {
	at, err := h.instant(c.Query("at"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "at must be an RFC3339 timestamp", err))
		return
	}
	resp, err := h.timeline.Exposure(c.Request.Context(), c.Param("id"), at)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, presentExposure(resp))
}

// Batch ranks many patios at one instant.
func (h *Handler) Batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	at := h.clock()
	if req.At != nil {
		at = req.At.UTC()
	}
	resp, err := h.timeline.Batch(c.Request.Context(), req.PatioIDs, at)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, presentBatch(resp))
}

// Timeline returns points and windows for ?start=&end=&resolution=.
func (h *Handler) Timeline(c *gin.Context) {
	start, err := h.instant(c.Query("start"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "start must be an RFC3339 timestamp", err))
		return
	}
	end := start.Add(h.defaultSpan)
	if raw := c.Query("end"); raw != "" {
		if end, err = parseInstant(raw); err != nil {
			abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "end must be an RFC3339 timestamp", err))
			return
		}
	}
	resolution, err := parseResolution(c.Query("resolution"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "resolution must be minutes or a duration such as 15m", err))
		return
	}
	resp, err := h.timeline.Timeline(c.Request.Context(), timeline.Request{
		PatioID:    c.Param("id"),
		Start:      start,
		End:        end,
		Resolution: resolution,
	})
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, presentTimeline(resp))
}

// Windows returns the materialized sun windows for ?date= (default today).
func (h *Handler) Windows(c *gin.Context) {
	date, err := h.date(c.Query("date"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD", err))
		return
	}
	schedule, err := h.precompute.Schedule(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, presentSchedule(schedule))
}

// Recompute queues a rebuild of a patio's schedules after a geometry or height edit.
func (h *Handler) Recompute(c *gin.Context) {
	patioID := c.Param("id")
	if err := h.precompute.EnqueueRecompute(c.Request.Context(), patioID); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	h.logger.Info("recompute requested", "patio_id", patioID)
	c.JSON(http.StatusAccepted, gin.H{"patioId": patioID, "status": "queued"})
}

// Health reports liveness and the latest precompute run.
func (h *Handler) Health(c *gin.Context) {
	resp := healthResponse{Status: "ok"}
	run, ok, err := h.precompute.LatestRun(c.Request.Context())
	if err != nil {
		h.logger.Warn("latest run lookup failed", "error", err)
		resp.Status = "degraded"
	} else if ok {
		resp.LastRun = &run
		if run.Status == precompute.RunFailed {
			resp.Status = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) instant(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return h.clock(), nil
	}
	return parseInstant(raw)
}

func (h *Handler) date(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return util.ParseDate(util.LocalDate(h.clock(), h.defaultLoc))
	}
	return util.ParseDate(strings.TrimSpace(raw))
}

func parseInstant(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseResolution accepts a bare minute count or a Go duration; empty means default.
func parseResolution(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if minutes, err := strconv.Atoi(raw); err == nil {
		return time.Duration(minutes) * time.Minute, nil
	}
	return time.ParseDuration(raw)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
