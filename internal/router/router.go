package router

import (
	"net/http"

	_ "github.com/3Eeeecho/go-uploadpipe/docs" // swag 生成的接口文档
	"github.com/3Eeeecho/go-uploadpipe/internal/handlers"
	"github.com/3Eeeecho/go-uploadpipe/internal/services/uploader"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// InitRouter 初始化 Gin 引擎并注册控制 API 路由
// 必须在恢复流程（Manager.Reconcile）完成后调用
func InitRouter(m *uploader.Manager) *gin.Engine {
	router := gin.Default() // 使用默认的 Gin 引擎，包含 Logger 和 Recovery 中间件

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	{
		uploads := v1.Group("/uploads")
		{
			uploads.POST("", handlers.StartUploadHandler(m))
			uploads.POST("/url", handlers.StartURLDownloadHandler(m))
			uploads.GET("", handlers.ListUploadsHandler(m))
			uploads.GET("/events", handlers.WatchUploadsHandler(m))
			uploads.POST("/:id/pause", handlers.PauseUploadHandler(m))
			uploads.POST("/:id/resume", handlers.ResumeUploadHandler(m))
			uploads.POST("/:id/retry", handlers.RetryUploadHandler(m))
			uploads.DELETE("/:id", handlers.CancelUploadHandler(m))
			uploads.DELETE("/:id/record", handlers.DismissUploadHandler(m))
		}
	}

	return router
}
