package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	categorizer "github.com/ryanburden/mercari-buddy"
	"github.com/ryanburden/mercari-buddy/internal/logger"
)

// Service is the part of the categorizer the HTTP API uses
type Service interface {
	CategorizeBatch(ctx context.Context, products []categorizer.Product) (*categorizer.BatchResult, error)
	Categorize(ctx context.Context, title string) (*categorizer.EnrichedRecord, error)
	GetMetrics() categorizer.Metrics
}

type batchRequest struct {
	Products []categorizer.Product `json:"products" binding:"required"`
}

type titleRequest struct {
	Title string `json:"title" binding:"required"`
}

// Handler serves the categorization endpoints
type Handler struct {
	svc      Service
	jobs     *jobs
	maxBatch int
	log      *logger.Logger
}

func NewHandler(svc Service, maxBatch int, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, jobs: newJobs(), maxBatch: maxBatch, log: log}
}

// POST /v1/categorize
func (h *Handler) CategorizeBatch(c *gin.Context) {
	products, ok := h.bindProducts(c)
	if !ok {
		return
	}

	batch, err := h.svc.CategorizeBatch(c.Request.Context(), products)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	RespondOK(c, batch)
}

// POST /v1/categorize/one
func (h *Handler) CategorizeOne(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	rec, err := h.svc.Categorize(c.Request.Context(), req.Title)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	RespondOK(c, rec)
}

// POST /v1/batches
func (h *Handler) SubmitBatch(c *gin.Context) {
	products, ok := h.bindProducts(c)
	if !ok {
		return
	}

	j := h.jobs.start(len(products), func(ctx context.Context) (*categorizer.BatchResult, error) {
		return h.svc.CategorizeBatch(ctx, products)
	})
	h.log.Info("batch job submitted", "job", j.ID, "products", len(products))
	c.JSON(http.StatusAccepted, j)
}

// GET /v1/batches/:id/status
func (h *Handler) BatchStatus(c *gin.Context) {
	j, ok := h.jobs.get(c.Param("id"))
	if !ok {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("batch job %q not found", c.Param("id")))
		return
	}
	RespondOK(c, j)
}

// GET /v1/batches/:id
func (h *Handler) BatchResult(c *gin.Context) {
	j, ok := h.jobs.get(c.Param("id"))
	if !ok {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("batch job %q not found", c.Param("id")))
		return
	}
	switch j.Status {
	case JobCompleted:
		RespondOK(c, j.Result)
	case JobFailed:
		RespondError(c, http.StatusUnprocessableEntity, "batch_failed", errors.New(j.Error))
	default:
		RespondError(c, http.StatusConflict, "not_ready", fmt.Errorf("batch job %s is %s", j.ID, j.Status))
	}
}

// GET /v1/metrics
func (h *Handler) Metrics(c *gin.Context) {
	RespondOK(c, h.svc.GetMetrics())
}

// GET /healthz
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) bindProducts(c *gin.Context) ([]categorizer.Product, bool) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return nil, false
	}
	if len(req.Products) == 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("products must not be empty"))
		return nil, false
	}
	if h.maxBatch > 0 && len(req.Products) > h.maxBatch {
		RespondError(c, http.StatusRequestEntityTooLarge, "batch_too_large",
			fmt.Errorf("batch has %d products, limit is %d", len(req.Products), h.maxBatch))
		return nil, false
	}

	seen := make(map[string]bool, len(req.Products))
	for i, p := range req.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("product %d has no id", i))
			return nil, false
		}
		if seen[id] {
			RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("duplicate product id %q", id))
			return nil, false
		}
		seen[id] = true
	}
	return req.Products, true
}

func (h *Handler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, categorizer.ErrEmptyTitle):
		RespondError(c, http.StatusBadRequest, "empty_title", err)
	case errors.Is(err, categorizer.ErrClosed):
		RespondError(c, http.StatusServiceUnavailable, "shutting_down", err)
	case errors.Is(err, categorizer.ErrEmbeddingUnavailable), errors.Is(err, categorizer.ErrClusteringFailed):
		h.log.Error("batch aborted", "error", err)
		RespondError(c, http.StatusBadGateway, "upstream_unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		RespondError(c, http.StatusServiceUnavailable, "canceled", err)
	default:
		h.log.Error("categorization failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
