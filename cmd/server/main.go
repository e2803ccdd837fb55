package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shashank188/CanvasCollab/internal/cache"
	"github.com/Shashank188/CanvasCollab/internal/canvasstore"
	"github.com/Shashank188/CanvasCollab/internal/config"
	"github.com/Shashank188/CanvasCollab/internal/db"
	"github.com/Shashank188/CanvasCollab/internal/httpapi"
	"github.com/Shashank188/CanvasCollab/internal/middleware"
	"github.com/Shashank188/CanvasCollab/internal/room"
	"github.com/Shashank188/CanvasCollab/internal/user"
	"github.com/Shashank188/CanvasCollab/internal/worker"
	"github.com/Shashank188/CanvasCollab/internal/wsproto"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Seed database with initial data (for development)
	db.SeedData()

	// Connect to Redis, used for the canvas version cache (§4.D)
	redisClient := redis.NewClient(&redis.Options{Addr: config.AppConfig.RedisAddress})
	defer redisClient.Close()
	versionCache := cache.New(redisClient)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Initialize repositories and services
	userRepo := user.NewRepository(db.AppDb)
	userService := user.NewService(userRepo)
	userHandler := user.NewHandler(userService)

	canvasStore := canvasstore.NewStore(db.AppDb)

	roomManager := room.NewManager()
	canvasHandler := httpapi.NewHandler(canvasStore, versionCache, roomManager)

	authMiddleware := &middleware.Auth{
		UserService:    userService,
		InternalSecret: config.AppConfig.InternalSecret,
	}

	// Background worker pool shared by async tasks. Currently the only
	// consumer is the compaction worker, but it's sized generously
	// because future background jobs (e.g. version-cache warmups) can
	// submit to the same pool.
	pool := worker.NewWorkerPool(4)
	defer pool.Shutdown()
	compactor := worker.NewCompactionWorker(pool, canvasStore, config.AppConfig.SnapshotThreshold)

	wsServer := wsproto.NewServer(roomManager, canvasStore, compactor, logger)

	// Initialize Gin router
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	httpapi.RegisterRoutes(router, canvasHandler, userHandler, wsServer.ServeHTTP, authMiddleware)

	// Heartbeat loop keeps the room manager's liveness ticks running
	// for the lifetime of the process.
	heartbeatStop := make(chan struct{})
	go wsServer.RunHeartbeat(heartbeatStop)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	close(heartbeatStop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	<-ctx.Done()
	log.Println("Server shutdown complete")
}
