package track

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/push-api/internal/callback"
	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/repository"
	"github.com/jwalitptl/push-api/internal/service/stats"
	"github.com/jwalitptl/push-api/pkg/logger"
)

// Handler records post-delivery engagement events from the webhook
// callback URLs embedded in each push payload. These events sit outside
// the dispatch pipeline's own outcomes and never affect sent/delivered
// counts.
type Handler struct {
	callbacks   *callback.URLBuilder
	statsSvc    stats.Service
	messageRepo repository.MessageRepository
	logger      *logger.Logger
}

func NewHandler(callbacks *callback.URLBuilder, statsSvc stats.Service, messageRepo repository.MessageRepository, logger *logger.Logger) *Handler {
	return &Handler{
		callbacks:   callbacks,
		statsSvc:    statsSvc,
		messageRepo: messageRepo,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	track := r.Group("/t")
	{
		track.GET("/:token/click", h.Click)
		track.GET("/:token/received", h.Received)
	}
}

// Click records the engagement and forwards the browser to the message's
// click-through URL when one exists.
func (h *Handler) Click(c *gin.Context) {
	token, ok := h.decode(c)
	if !ok {
		return
	}

	h.record(c, token, model.EventClicked)

	msg, err := h.messageRepo.Get(c.Request.Context(), token.MessageID)
	if err == nil && msg.ClickURL != "" {
		c.Redirect(http.StatusFound, msg.ClickURL)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Received(c *gin.Context) {
	token, ok := h.decode(c)
	if !ok {
		return
	}

	h.record(c, token, model.EventReceived)
	c.Status(http.StatusNoContent)
}

func (h *Handler) decode(c *gin.Context) (*callback.Token, bool) {
	token, err := h.callbacks.Decode(c.Param("token"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return nil, false
	}
	return token, true
}

func (h *Handler) record(c *gin.Context, token *callback.Token, eventType model.EventType) {
	event := &model.DeliveryEvent{
		MessageID: token.MessageID,
		ContactID: token.ContactID,
		Type:      eventType,
		Subtype:   model.SubtypeNone,
	}
	if err := h.statsSvc.Record(c.Request.Context(), event); err != nil {
		h.logger.Error(err, "failed to record engagement event",
			"message_id", token.MessageID.String(),
			"contact_id", token.ContactID.String(),
			"type", string(eventType))
	}
}
