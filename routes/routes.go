package routes

import (
	"log"
	"net/http"

	"sudokuduel/handlers"
	"sudokuduel/middleware"
	"sudokuduel/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	matchHandler *handlers.MatchHandler,
	hub *services.Hub,
	jwtSecret string,
) {
	// API routes
	api := router.Group("/api")
	{
		// Auth routes (public)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(jwtSecret))
		{
			// User profile
			protected.GET("/auth/profile", authHandler.GetProfile)

			// Match routes
			matches := protected.Group("/matches")
			{
				matches.POST("", matchHandler.CreateMatch)
				matches.GET("/open", matchHandler.ListOpenMatches)
				matches.GET("/:id", matchHandler.GetMatch)
				matches.POST("/:id/join", matchHandler.JoinMatch)
			}
		}
	}

	// WebSocket endpoint for real-time game communication. The session
	// (match, user) is established by the join-game event after connecting.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upgrade connection"})
			return
		}

		hub.RegisterClient(conn)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
