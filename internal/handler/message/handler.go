package message

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/push-api/pkg/errors"

	"github.com/jwalitptl/push-api/internal/handler"
	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/repository"
	"github.com/jwalitptl/push-api/internal/service/dispatch"
	"github.com/jwalitptl/push-api/internal/service/stats"
)

type Handler struct {
	dispatchSvc dispatch.Service
	statsSvc    stats.Service
	messageRepo repository.MessageRepository
}

func NewHandler(dispatchSvc dispatch.Service, statsSvc stats.Service, messageRepo repository.MessageRepository) *Handler {
	return &Handler{
		dispatchSvc: dispatchSvc,
		statsSvc:    statsSvc,
		messageRepo: messageRepo,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	messages := r.Group("/messages")
	{
		messages.POST("", h.Dispatch)
		messages.GET("/:id", h.Get)
		messages.GET("/:id/stats", h.Stats)
	}
}

type dispatchRequest struct {
	Domain   string `json:"domain" binding:"required"`
	Title    string `json:"title" binding:"required"`
	Body     string `json:"body" binding:"required"`
	ClickURL string `json:"click_url" binding:"omitempty,httpsurl"`
	ImageURL string `json:"image_url" binding:"omitempty,httpsurl"`
}

// Dispatch accepts a send request and returns 202 immediately; delivery
// outcomes appear asynchronously under /messages/:id/stats.
func (h *Handler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	msg := &model.DispatchMessage{
		Domain:   req.Domain,
		Title:    req.Title,
		Body:     req.Body,
		ClickURL: req.ClickURL,
		ImageURL: req.ImageURL,
	}

	if err := h.dispatchSvc.Dispatch(c.Request.Context(), msg); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrBadRequest {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(appErr.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"id": msg.ID}))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid message id"))
		return
	}

	msg, err := h.messageRepo.Get(c.Request.Context(), id)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrNotFound {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse(appErr.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	summary := h.statsSvc.Summarize(c.Request.Context(), id)
	msg.Sent = summary.Sent
	msg.Delivered = summary.Delivered
	msg.NotDelivered = summary.NotDelivered

	c.JSON(http.StatusOK, handler.NewSuccessResponse(msg))
}

// Stats never returns a 5xx for an analytics-store hiccup; the summary
// degrades to zeros instead.
func (h *Handler) Stats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid message id"))
		return
	}

	summary := h.statsSvc.Summarize(c.Request.Context(), id)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}
