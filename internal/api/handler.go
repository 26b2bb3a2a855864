package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"todoq/internal/producer"
	"todoq/internal/store"
)

type Handler struct {
	reader   Reader
	producer Producer
	logger   *slog.Logger
}

func NewHandler(reader Reader, producer Producer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reader: reader, producer: producer, logger: logger}
}

// NewRouter wires the item and job routes. metrics may be nil.
func NewRouter(reader Reader, producer Producer, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	h := NewHandler(reader, producer, logger)
	r.Use(gin.Recovery(), h.logRequests)

	r.GET("/healthz", h.Healthz)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	r.GET("/items", h.ListItems)
	r.GET("/items/:id", h.GetItem)
	r.POST("/items", h.CreateItem)
	r.POST("/items/:id/toggle", h.ToggleItem)
	r.DELETE("/items/:id", h.DeleteItem)
	r.GET("/jobs/:id", h.GetJob)
	return r
}

func (h *Handler) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ListItems(c *gin.Context) {
	page, ok := queryInt(c, "page", DefaultPage)
	if !ok || page < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidPagination})
		return
	}
	limit, ok := queryInt(c, "limit", DefaultLimit)
	if !ok || limit < 1 || limit > MaxLimit {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidPagination})
		return
	}

	items, err := h.reader.ListItems(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		h.logger.Error("list items failed", "err", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrStore})
		return
	}
	if items == nil {
		items = []store.Item{}
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) GetItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNotFound})
		return
	}
	item, err := h.reader.GetItem(c.Request.Context(), id)
	if err != nil {
		h.readError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNotFound})
		return
	}
	job, err := h.reader.GetJob(c.Request.Context(), id)
	if err != nil {
		h.readError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobResponse{ID: job.ID, Status: job.Status})
}

func (h *Handler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidJSON})
		return
	}
	accepted, err := h.producer.Create(c.Request.Context(), req.Title)
	h.accepted(c, accepted, err)
}

func (h *Handler) ToggleItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidID})
		return
	}
	accepted, err := h.producer.Toggle(c.Request.Context(), id)
	h.accepted(c, accepted, err)
}

func (h *Handler) DeleteItem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrInvalidID})
		return
	}
	accepted, err := h.producer.Delete(c.Request.Context(), id)
	h.accepted(c, accepted, err)
}

func (h *Handler) accepted(c *gin.Context, accepted producer.Accepted, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, accepted)
	case errors.Is(err, producer.ErrEmptyTitle):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrMissingTitle})
	case errors.Is(err, producer.ErrPublish):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: ErrPublish})
	default:
		h.logger.Error("enqueue failed", "err", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrStore})
	}
}

func (h *Handler) readError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: ErrNotFound})
		return
	}
	h.logger.Error("ledger read failed", "err", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: ErrStore})
}

// queryInt returns def when the parameter is absent and ok=false when it is
// present but not an integer.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw, present := c.GetQuery(key)
	if !present {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
