package httpapi

import (
	"net/http"

	"github.com/Shashank188/CanvasCollab/internal/middleware"
	"github.com/Shashank188/CanvasCollab/internal/user"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires every route of §6 onto router: the canvas read
// APIs and sync companion, the thin identity routes, the WebSocket
// upgrade, and the internal-only compaction trigger. Grounded on the
// teacher's cmd/server/main.go route registration (flat calls on the
// router, auth middleware passed per-route rather than via a group).
func RegisterRoutes(router *gin.Engine, canvasHandler *Handler, userHandler *user.Handler, wsUpgrade http.HandlerFunc, auth *middleware.Auth) {
	router.GET("/health", canvasHandler.Health)

	router.GET("/api/canvas/:id", canvasHandler.GetCanvas)
	router.GET("/api/canvas/:id/state", canvasHandler.GetCanvasState)
	router.GET("/api/canvas/:id/events", canvasHandler.GetCanvasEvents)
	router.POST("/api/canvas", canvasHandler.CreateCanvas)
	router.POST("/api/canvas/:id/sync", canvasHandler.SyncCanvas)

	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.POST("/refresh", userHandler.RefreshToken)
	router.DELETE("/logout", auth.AuthMiddleWare(), userHandler.Logout)
	router.GET("/profile", auth.AuthMiddleWare(), userHandler.GetProfile)
	router.GET("/users", auth.AuthMiddleWare(), userHandler.SearchUsers)

	router.GET("/ws", gin.WrapF(wsUpgrade))

	router.POST("/internal/canvas/:id/snapshot", auth.InternalAuthMiddleware(), canvasHandler.CompactCanvas)
}
