package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
	"github.com/benjamincozon/shoplens/internal/pipeline"
	"github.com/benjamincozon/shoplens/internal/report"
)

type Handlers struct {
	pipeline     *pipeline.Pipeline
	store        learn.Store
	allowedHosts []string
	log          zerolog.Logger
}

func NewHandlers(p *pipeline.Pipeline, store learn.Store, allowedHosts []string, log zerolog.Logger) *Handlers {
	return &Handlers{
		pipeline:     p,
		store:        store,
		allowedHosts: allowedHosts,
		log:          log,
	}
}

// Analyze enqueues an analysis job for a marketplace URL
func (h *Handlers) Analyze(c echo.Context) error {
	var req struct {
		URL string `json:"url"`
	}
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid url")
	}
	if !h.hostAllowed(u.Hostname()) {
		return echo.NewHTTPError(http.StatusBadRequest, "url is not on the target marketplace")
	}

	job, err := h.pipeline.Submit(req.URL)
	if err != nil {
		if errors.Is(err, pipeline.ErrUnknownKind) {
			return echo.NewHTTPError(http.StatusBadRequest, "could not detect URL kind")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue job")
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"url_kind": job.URLKind,
		"eta_s":    30,
	})
}

// hostAllowed accepts any host when no allow-list is configured; otherwise
// the host must match an entry exactly or be a subdomain of one.
func (h *Handlers) hostAllowed(host string) bool {
	if len(h.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range h.allowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// GetJob returns job status, progress and the final report once completed
func (h *Handlers) GetJob(c echo.Context) error {
	job, ok := h.pipeline.Jobs().Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	return c.JSON(http.StatusOK, job)
}

// DownloadReport renders a completed job's report in the requested format
func (h *Handlers) DownloadReport(c echo.Context) error {
	job, ok := h.pipeline.Jobs().Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	if job.Status != models.JobCompleted || job.Result == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job is not completed")
	}

	r, err := report.ForFormat(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	body, err := r.Render(job.Result)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to render report")
	}

	c.Response().Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=report_%s.md", job.ID))
	return c.Blob(http.StatusOK, r.ContentType(), body)
}

// Health reports service liveness
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"ts":     time.Now().UTC(),
	})
}

// SuccessRates returns per-stage rolling aggregates for a period type
func (h *Handlers) SuccessRates(c echo.Context) error {
	period := c.QueryParam("period")
	if period == "" {
		period = pipeline.PeriodDay
	}
	if !pipeline.ValidPeriod(period) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid period")
	}

	lookback := 1
	if v := c.QueryParam("lookback"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid lookback")
		}
		lookback = n
	}

	return c.JSON(http.StatusOK, map[string]any{
		"period": period,
		"stages": h.pipeline.Monitor().GetSuccessRates(period, lookback),
	})
}

// StageDetails returns raw stage samples, newest first
func (h *Handlers) StageDetails(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	stage := c.Param("stage")
	return c.JSON(http.StatusOK, map[string]any{
		"stage":   stage,
		"records": h.pipeline.Monitor().GetStageDetails(stage, limit),
	})
}

// CreateReport files a user-reported extraction mismatch against a completed
// job and stores the field's structure snippet as a learning chunk
func (h *Handlers) CreateReport(c echo.Context) error {
	var req struct {
		JobID  string `json:"job_id"`
		Field  string `json:"field"`
		Detail string `json:"detail"`
	}
	if err := c.Bind(&req); err != nil || req.JobID == "" || req.Field == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "job_id and field are required")
	}

	job, ok := h.pipeline.Jobs().Get(req.JobID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Job not found")
	}
	if job.Status != models.JobCompleted || job.Result == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job is not completed")
	}

	ctx := c.Request().Context()
	errReport := models.ErrorReport{
		ID:        uuid.NewString(),
		JobID:     req.JobID,
		Field:     req.Field,
		Detail:    req.Detail,
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.AddErrorReport(ctx, errReport); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to store report")
	}

	chunk := buildReportChunk(job, req.Field)
	if err := h.store.AddChunk(ctx, chunk); err != nil {
		// Learning artifacts are best-effort; the report itself is filed.
		h.log.Warn().Err(err).Str("field", req.Field).Msg("store report chunk")
	}

	return c.JSON(http.StatusCreated, errReport)
}

// ResolveReport flips a filed report to resolved; its chunks persist
func (h *Handlers) ResolveReport(c echo.Context) error {
	if err := h.store.ResolveErrorReport(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Report not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}

// buildReportChunk extracts the reported field's page-structure snippet from
// the job's stored record.
func buildReportChunk(job models.Job, field string) models.Chunk {
	var ps *models.PageStructure
	var code string
	if job.Result.Product != nil {
		ps = job.Result.Product.PageStructure
		code = job.Result.Product.Code
	} else if job.Result.Shop != nil {
		ps = job.Result.Shop.PageStructure
		code = job.Result.Shop.ID
	}

	classes := ps.ClassesForField(field)
	chunk := models.Chunk{
		Field:            field,
		ExtractionMethod: "user-report",
		RelatedClasses:   make([]string, 0, len(classes)),
		ClassFrequency:   map[string]int{},
		ElementPresent:   len(classes) > 0,
		Context:          models.ChunkContext{URL: job.URL, Code: code},
		CreatedAt:        time.Now().UTC(),
	}
	for _, cf := range classes {
		chunk.RelatedClasses = append(chunk.RelatedClasses, cf.Class)
		chunk.ClassFrequency[cf.Class] = cf.Freq
	}
	return chunk
}
