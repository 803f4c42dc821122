package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classbell/internal/auth"
	"classbell/internal/schedule"
	"classbell/internal/services"
	"classbell/internal/store"
)

// Handler carries the collaborators the API surface delegates to
type Handler struct {
	store      store.Store
	expander   *schedule.Expander
	dispatcher *services.Dispatcher
	scheduler  *services.Scheduler
}

// NewHandler wires the API layer to the engine
func NewHandler(st store.Store, expander *schedule.Expander, dispatcher *services.Dispatcher, scheduler *services.Scheduler) *Handler {
	return &Handler{
		store:      st,
		expander:   expander,
		dispatcher: dispatcher,
		scheduler:  scheduler,
	}
}

// RegisterRoutes mounts the full API surface on the router
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")

	api.GET("/health", h.Health)
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	// Routes that require authentication
	protected := api.Group("")
	protected.Use(auth.AuthMiddleware(h.store))
	{
		protected.GET("/auth/me", h.Me)
		protected.GET("/users/me/timetable", h.MyTimetable)
		protected.GET("/users/me/classes", h.MyUpcomingClasses)
		protected.PUT("/users/me/preferences", h.UpdatePreferences)

		admin := protected.Group("/admin")
		admin.Use(auth.AdminRequired())
		{
			admin.POST("/timetables/upload", h.UploadTimetable)
			admin.POST("/classes", h.CreateClass)
			admin.GET("/upcoming", h.UpcomingClasses)
			admin.GET("/logs", h.DeliveryLogs)
			admin.POST("/test-reminder", h.TestReminder)
			admin.GET("/users", h.ListUsers)
		}
	}
}

// handleError provides a consistent way to handle and log errors
func handleError(c *gin.Context, status int, message string, err error) {
	log.Printf("Error: %v", err)
	c.JSON(status, gin.H{"error": message})
}

// Health is a simple health check endpoint reporting scheduler liveness
func (h *Handler) Health(c *gin.Context) {
	running := h.scheduler != nil && h.scheduler.Running()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"scheduler": running,
		"time":      time.Now().UTC(),
	})
}
