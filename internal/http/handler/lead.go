package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/internal/http/dto"
	"brokerdesk.sg/relay/internal/service"
)

type LeadHandler struct {
	service      service.LeadIntakeService
	supportPhone string
}

func NewLeadHandler(service service.LeadIntakeService, supportPhone string) *LeadHandler {
	return &LeadHandler{
		service:      service,
		supportPhone: supportPhone,
	}
}

// Evaluate scores a snapshot for the form's live preview. Nothing is stored.
func (h *LeadHandler) Evaluate(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid lead evaluation request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	eval := h.service.Evaluate(ctx, req.Lead, req.Gate)
	c.JSON(http.StatusOK, dto.ToLeadEvaluationResponse(eval))
}

func (h *LeadHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.LeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid lead submission", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Submit(ctx, req.Lead, req.Gate)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		case errors.Is(err, breaker.ErrOpen):
			slog.WarnContext(ctx, "lead submission rejected, chat backend unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "chat service unavailable",
				"message": breaker.FallbackResponse(h.supportPhone),
			})
		default:
			slog.ErrorContext(ctx, "failed to submit lead", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "failed to submit lead",
				"message": breaker.FallbackResponse(h.supportPhone),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.ToLeadSubmitResponse(result))
}
