package router

import (
	"github.com/gin-gonic/gin"

	"brokerdesk.sg/relay/internal/http/handler"
)

func LeadRouter(router *gin.RouterGroup, handler *handler.LeadHandler) {
	router.POST("", handler.Submit)
	router.POST("/evaluate", handler.Evaluate)
}
