package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"classbell/internal/database"
	"classbell/internal/handlers"
	"classbell/internal/schedule"
	"classbell/internal/services"
	"classbell/internal/store"
)

// This is our main function - the entry point of our application
func main() {
	// Load environment from .env in development; real env wins in production
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	// Initialize database
	if err := database.InitDB(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	loc := institutionLocation()
	st := store.NewGormStore(database.GetDB())
	expander := schedule.NewExpander(loc, occurrenceCap())
	calc := schedule.NewCalculator(loc)
	dispatcher := services.NewDispatcher(st, services.NewEmailService())

	// Start the dispatch loop before serving traffic so reminders flow even
	// if the API is idle
	scheduler := services.NewScheduler(st, dispatcher, expander, calc, services.SchedulerConfigFromEnv())
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start scheduler:", err)
	}
	defer scheduler.Stop()

	// Initialize Gin router
	router := gin.Default()

	// Configure trusted proxies
	router.SetTrustedProxies([]string{"127.0.0.1"})

	// CORS for the (out of scope) web frontend
	corsConfig := cors.DefaultConfig()
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsConfig.AllowOrigins = strings.Split(origins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	corsConfig.AddAllowHeaders("Authorization")
	router.Use(cors.New(corsConfig))

	api := handlers.NewHandler(st, expander, dispatcher, scheduler)
	api.RegisterRoutes(router)

	// Start the server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	fmt.Printf("Server starting on port %s...\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}

// institutionLocation loads the timezone all class wall-clock times belong to
func institutionLocation() *time.Location {
	name := os.Getenv("INSTITUTION_TZ")
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Invalid INSTITUTION_TZ %q, falling back to UTC: %v", name, err)
		return time.UTC
	}
	return loc
}

// occurrenceCap reads the per-expansion occurrence limit
func occurrenceCap() int {
	if v := os.Getenv("OCCURRENCE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return schedule.DefaultMaxOccurrences
}
