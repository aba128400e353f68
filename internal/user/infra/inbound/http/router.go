package http

import "github.com/gin-gonic/gin"

func RegisterUserRoutes(r *gin.Engine, handler *UserHandler) {
	users := r.Group("/users")
	{
		users.POST("", handler.RegisterUser)
		users.GET("/:id", handler.GetUser)
	}
}

func RegisterOpsRoutes(r *gin.Engine, handler *OpsHandler) {
	r.GET("/health", handler.Health)
	r.GET("/outbox/stats", handler.OutboxStats)
}
