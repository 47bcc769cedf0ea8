package main

import (
	"log"

	"sudokuduel/config"
	"sudokuduel/handlers"
	"sudokuduel/middleware"
	"sudokuduel/models"
	"sudokuduel/routes"
	"sudokuduel/services"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database models
	err = db.AutoMigrate(
		&models.User{},
		&models.Match{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize Redis
	redisClient := config.InitRedis(cfg)

	// Initialize services
	authService := services.NewAuthService(db, cfg.JWTSecret)
	matchService := services.NewMatchService(db)
	registry := services.NewRoomRegistry(matchService)
	roomService := services.NewRoomService(registry, matchService, redisClient)

	// Initialize WebSocket hub
	hub := services.NewHub(roomService)
	go hub.Run()

	// Background sweep: time-limit expiry and eviction of drained rooms
	go roomService.Run(hub)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	matchHandler := handlers.NewMatchHandler(matchService)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Setup routes
	routes.SetupRoutes(router, authHandler, matchHandler, hub, cfg.JWTSecret)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
