package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suPer8Hu/branchchat/internal/common"
	"github.com/suPer8Hu/branchchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/branchchat/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/models", h.ListModels)

	// signed upload URLs and public asset reads
	r.POST("/files/upload/:token", h.Upload)
	r.PUT("/files/upload/:token", h.Upload)
	r.GET("/files/:id", h.GetFile)

	// preflight for browser-driven streams; CORS answers it
	r.OPTIONS("/chat-stream", func(*gin.Context) {})
	r.OPTIONS("/breakpoints-stream", func(*gin.Context) {})

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))

	authGroup.POST("/files/upload-url", h.CreateUploadURL)

	// threads
	authGroup.POST("/threads", h.CreateThread)
	authGroup.GET("/threads", h.ListThreads)
	authGroup.GET("/threads/recent", h.RecentThreads)
	authGroup.GET("/threads/search", h.SearchThreads)
	authGroup.GET("/threads/:id", h.GetThread)
	authGroup.PATCH("/threads/:id/title", h.RenameThread)
	authGroup.PATCH("/threads/:id/pin", h.PinThread)
	authGroup.DELETE("/threads/:id", h.DeleteThread)
	authGroup.POST("/threads/:id/fork", h.ForkThread)

	// messages and breakpoints
	authGroup.POST("/threads/:id/messages", h.CreateMessage)
	authGroup.GET("/threads/:id/messages", h.ListMessages)
	authGroup.GET("/threads/:id/breakpoints", h.ListBreakPoints)
	authGroup.GET("/messages/:id", h.GetMessage)
	authGroup.POST("/messages/:id/attachments", h.AddAttachments)
	authGroup.GET("/messages/:id/attachments", h.ListAttachments)
	authGroup.POST("/messages/:id/breakpoints", h.CreateBreakPoint)

	// generation and streaming (SSE)
	authGroup.POST("/chat-stream", h.ChatStream)
	authGroup.POST("/breakpoints-stream", h.BreakPointStream)
	authGroup.GET("/streams/:id", h.StreamEvents)
	authGroup.GET("/streams/:id/body", h.StreamBody)
	if h.Driven != nil {
		authGroup.GET("/streams/driven", h.ListDriven)
		authGroup.DELETE("/streams/driven", h.ClearDriven)
		authGroup.POST("/streams/:id/driven", h.AddDriven)
		authGroup.DELETE("/streams/:id/driven", h.RemoveDriven)
	}
	return r
}
