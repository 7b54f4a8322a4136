package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokerdesk.sg/relay/internal/http/dto"
	"brokerdesk.sg/relay/internal/service"
)

type BrokerHandler struct {
	service service.AvailabilityService
}

func NewBrokerHandler(service service.AvailabilityService) *BrokerHandler {
	return &BrokerHandler{service: service}
}

func (h *BrokerHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	brokers, err := h.service.ListBrokers(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list brokers", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list brokers"})
		return
	}

	resp := dto.ListBrokersResponse{Brokers: make([]dto.BrokerResponse, 0, len(brokers))}
	for _, b := range brokers {
		resp.Brokers = append(resp.Brokers, dto.ToBrokerResponse(b))
	}
	c.JSON(http.StatusOK, resp)
}
