package route

import (
	"github.com/gin-gonic/gin"
)

type NotificationHandler interface {
	Create(c *gin.Context)
}

type StreamHandler interface {
	Stream(c *gin.Context)
}

// RegisterNotification leaves the websocket stream outside the request timeout.
func RegisterNotification(g *gin.RouterGroup, h NotificationHandler, s StreamHandler, timeoutMiddleware gin.HandlerFunc) {
	g.POST("", timeoutMiddleware, h.Create)
	g.GET("/ws", s.Stream)
}
