package contact

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/push-api/pkg/errors"

	"github.com/jwalitptl/push-api/internal/handler"
	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/service/contact"
)

type Handler struct {
	service contact.Service
}

func NewHandler(service contact.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	contacts := r.Group("/contacts")
	{
		contacts.POST("", h.Register)
		contacts.GET("/:id", h.Get)
		contacts.PATCH("/:id", h.Update)
	}
}

type registerRequest struct {
	Domain       string `json:"domain" binding:"required"`
	DeviceToken  string `json:"device_token"`
	Subscription *struct {
		Endpoint string `json:"endpoint" binding:"required,url"`
		P256DH   string `json:"p256dh" binding:"required"`
		Auth     string `json:"auth" binding:"required"`
	} `json:"subscription"`
	VisitorID string `json:"visitor_id"`
	Email     string `json:"email" binding:"omitempty,email"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	contact := &model.Contact{
		Domain:      req.Domain,
		DeviceToken: req.DeviceToken,
		VisitorID:   req.VisitorID,
		Email:       req.Email,
	}
	if req.Subscription != nil {
		contact.Subscription = &model.PushSubscription{
			Endpoint: req.Subscription.Endpoint,
			P256DH:   req.Subscription.P256DH,
			Auth:     req.Subscription.Auth,
		}
	}

	if err := h.service.Register(c.Request.Context(), contact); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrBadRequest {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(appErr.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(contact))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid contact id"))
		return
	}

	found, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrNotFound {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse(appErr.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(found))
}

type updateRequest struct {
	Email     *string `json:"email" binding:"omitempty,email"`
	VisitorID *string `json:"visitor_id"`
}

func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid contact id"))
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	ctx := c.Request.Context()
	if req.Email != nil {
		if err := h.service.UpdateEmail(ctx, id, *req.Email); err != nil {
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
			return
		}
	}
	if req.VisitorID != nil {
		if err := h.service.UpdateVisitorID(ctx, id, *req.VisitorID); err != nil {
			c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}
