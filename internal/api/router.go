// Package api assembles the HTTP surface: auth, job workflow, queue and
// storage maintenance endpoints.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ravaka/cardline/internal/api/handlers"
	"github.com/ravaka/cardline/internal/api/middleware"
	"github.com/ravaka/cardline/internal/core"
	"github.com/ravaka/cardline/internal/storage"
)

func NewRouter(workflow *core.Workflow, store *storage.Store, log *slog.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	auth, err := middleware.NewAuthMiddleware()
	if err != nil {
		return nil, err
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/api/v1/auth/setup", auth.SetupHandler)
	r.POST("/api/v1/auth/login", auth.LoginHandler)
	r.POST("/api/v1/auth/logout", auth.LogoutHandler)
	r.GET("/api/v1/auth/status", auth.StatusHandler)

	v1 := r.Group("/api/v1")
	v1.Use(auth.RequireAuth())
	v1.POST("/auth/change-password", auth.ChangePasswordHandler)

	handlers.NewJobHandler(workflow).RegisterRoutes(v1)
	handlers.NewQueueHandler(workflow).RegisterRoutes(v1)
	handlers.NewStorageHandler(store).RegisterRoutes(v1)

	return r, nil
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.URL.Path == "/healthz" {
			return
		}
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
		)
	}
}
