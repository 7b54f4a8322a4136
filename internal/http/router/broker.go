package router

import (
	"github.com/gin-gonic/gin"

	"brokerdesk.sg/relay/internal/http/handler"
)

func BrokerRouter(router *gin.RouterGroup, handler *handler.BrokerHandler) {
	router.GET("", handler.List)
}
