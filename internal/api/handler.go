package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"surfacesync/internal/logger"
	"surfacesync/internal/mediacache"
	"surfacesync/internal/receipts"
	"surfacesync/internal/reconcile"
	"surfacesync/internal/sharedstate"
	apperrors "surfacesync/pkg/errors"
	"surfacesync/pkg/health"
	"surfacesync/pkg/models"
)

const maxPushBodyBytes = 1 << 20

type Pusher interface {
	HandleRaw(ctx context.Context, raw []byte) error
	ClearAll(ctx context.Context) error
}

type MediaReader interface {
	Open(ctx context.Context, key string) ([]byte, models.CachedMediaEntry, error)
}

type Reconciler interface {
	Trigger(ctx context.Context) (reconcile.Result, error)
}

// Deps are the components served over HTTP. Events and Health may be nil.
type Deps struct {
	Pusher     Pusher
	Receipts   receipts.Queue
	State      sharedstate.Store
	Media      MediaReader
	Reconciler Reconciler
	Events     http.Handler
	Health     *health.CheckerRegistry
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := apperrors.ToHTTPStatus(err)
	response := apperrors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	deps Deps
	now  func() time.Time
}

func NewHandler(deps Deps, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		deps:        deps,
		now:         time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	{
		v1.POST("/push", h.Push)
		v1.POST("/receipts", h.AppendReceipt)
		v1.GET("/receipts/depth", h.ReceiptDepth)
		v1.POST("/reconcile", h.Reconcile)
		v1.GET("/surfaces/:scope", h.GetSurface)
		v1.GET("/media/:key", h.GetMedia)
		v1.DELETE("/state", h.ClearState)

		if h.deps.Events != nil {
			v1.GET("/events", gin.WrapH(h.deps.Events))
		}
	}

	if h.deps.Health != nil {
		router.GET("/health", h.Health)
	}
}

// Push accepts a raw push payload. Filtered and duplicate payloads are
// accepted too; only undecodable payloads and failed writes are errors.
func (h *Handler) Push(c *gin.Context) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPushBodyBytes))
	if err != nil {
		h.HandleError(c, apperrors.ErrInvalidPayload.WithCause(err))
		return
	}

	if err := h.deps.Pusher.HandleRaw(c.Request.Context(), raw); err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

type receiptRequest struct {
	MessageID        string `json:"messageId" binding:"required"`
	ConsumedAtMillis int64  `json:"consumedAtMillis"`
}

func (h *Handler) AppendReceipt(c *gin.Context) {
	var req receiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	if req.ConsumedAtMillis == 0 {
		req.ConsumedAtMillis = h.now().UnixMilli()
	}

	record := models.ReceiptRecord{MessageID: req.MessageID, ConsumedAtMillis: req.ConsumedAtMillis}
	if err := h.deps.Receipts.Append(c.Request.Context(), record); err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *Handler) ReceiptDepth(c *gin.Context) {
	n, err := h.deps.Receipts.Len(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"depth": n})
}

type reconcileResponse struct {
	RunID      string `json:"runId"`
	Records    int    `json:"records"`
	Distinct   int    `json:"distinct"`
	Committed  int    `json:"committed"`
	Failed     int    `json:"failed"`
	Removed    int    `json:"removed"`
	Corrupt    int    `json:"corrupt"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// Reconcile runs one reconciliation pass. A run that committed anything is a
// 200 even if some ids failed; those stay queued for the next run.
func (h *Handler) Reconcile(c *gin.Context) {
	result, err := h.deps.Reconciler.Trigger(c.Request.Context())

	resp := reconcileResponse{
		RunID:      result.RunID,
		Records:    result.Records,
		Distinct:   result.Distinct,
		Committed:  result.Committed,
		Failed:     result.Failed,
		Removed:    result.Removed,
		Corrupt:    result.Corrupt,
		DurationMs: result.Duration.Milliseconds(),
	}

	if err != nil {
		if result.Committed == 0 {
			h.HandleError(c, err)
			return
		}
		resp.Error = err.Error()
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSurface(c *gin.Context) {
	scope := c.Param("scope")
	if !sharedstate.ValidScope(scope) {
		h.HandleError(c, apperrors.ErrValidation.WithDetail("scope", scope))
		return
	}

	fields, err := h.deps.State.ReadAll(c.Request.Context(), scope)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	out := make(map[string]interface{}, len(fields))
	for name, v := range fields {
		out[name] = plainValue(v)
	}
	c.JSON(http.StatusOK, gin.H{"scope": scope, "fields": out})
}

func plainValue(v sharedstate.Value) interface{} {
	switch v.Kind {
	case sharedstate.KindInt:
		return v.Int
	case sharedstate.KindBool:
		return v.Bool
	case sharedstate.KindBytes:
		return v.Bytes
	default:
		return v.Str
	}
}

func (h *Handler) GetMedia(c *gin.Context) {
	data, entry, err := h.deps.Media.Open(c.Request.Context(), c.Param("key"))
	if errors.Is(err, mediacache.ErrNotCached) {
		h.HandleError(c, apperrors.ErrNotFound.WithCause(err).WithDetail("key", c.Param("key")))
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, entry.ContentType, data)
}

// ClearState is the sign-out path: every scope, blob and dedup entry goes.
func (h *Handler) ClearState(c *gin.Context) {
	if err := h.deps.Pusher.ClearAll(c.Request.Context()); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Health(c *gin.Context) {
	hs := h.deps.Health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if hs.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, hs)
}
