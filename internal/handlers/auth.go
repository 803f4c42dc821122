package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"classbell/internal/auth"
	"classbell/internal/models"
	"classbell/internal/store"
	"classbell/internal/utils"
)

// Register handles new user registration
func (h *Handler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, http.StatusBadRequest, "Invalid input", err)
		return
	}

	// Validate password strength
	if err := auth.ValidatePassword(req.Password); err != nil {
		handleError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	if _, err := h.store.UserByEmail(req.Email); err == nil {
		handleError(c, http.StatusConflict, "Email already registered",
			errors.New("duplicate registration for "+req.Email))
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	user := models.User{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Role:        req.Role,
		HashedPass:  hashed,
		Preferences: models.DefaultPreferences(),
	}
	if user.Role == "" {
		user.Role = models.RoleStaff
	}

	if err := h.store.CreateUser(&user); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			handleError(c, http.StatusConflict, "Email already registered", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Failed to create user", err)
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": user})
}

// Login handles user authentication and JWT token generation
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, http.StatusBadRequest, "Invalid login request", err)
		return
	}

	recordAttempt := func(success bool) {
		entry := models.LoginLog{
			Email:     req.Email,
			Success:   success,
			ClientIP:  utils.GetRealClientIP(c),
			Timestamp: time.Now(),
		}
		if err := h.store.RecordLogin(entry); err != nil {
			// Audit trail failures must not block login itself.
			log.Printf("Failed to record login attempt for %s: %v", req.Email, err)
		}
	}

	user, err := h.store.UserByEmail(req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			recordAttempt(false)
			handleError(c, http.StatusUnauthorized, "Invalid credentials", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "Login attempt failed", err)
		return
	}

	if !auth.VerifyPassword(user.HashedPass, req.Password) {
		recordAttempt(false)
		handleError(c, http.StatusUnauthorized, "Invalid credentials",
			errors.New("password verification failed for "+req.Email))
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to generate token", err)
		return
	}

	recordAttempt(true)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Me returns the authenticated principal
func (h *Handler) Me(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		handleError(c, http.StatusUnauthorized, "authentication required", errors.New("no principal in context"))
		return
	}
	c.JSON(http.StatusOK, user)
}
