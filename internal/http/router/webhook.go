package router

import (
	"github.com/gin-gonic/gin"

	"brokerdesk.sg/relay/internal/http/handler/webhook"
)

func WebhookRouter(router *gin.RouterGroup, handler *webhook.ChatwootWebhookHandler) {
	router.POST("/chatwoot", handler.HandleEvent)
}
