package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"classbell/internal/models"
	"classbell/internal/store"
	"classbell/internal/timetable"
)

// UploadTimetable accepts a CSV timetable and creates the parsed classes
func (h *Handler) UploadTimetable(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		handleError(c, http.StatusBadRequest, "Missing upload file", err)
		return
	}

	name := strings.ToLower(fileHeader.Filename)
	if strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls") {
		handleError(c, http.StatusBadRequest, "Only CSV files are supported",
			errors.New("rejected spreadsheet upload "+fileHeader.Filename))
		return
	}
	if !strings.HasSuffix(name, ".csv") {
		handleError(c, http.StatusBadRequest, "Only CSV files are supported",
			errors.New("rejected upload "+fileHeader.Filename))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to read upload", err)
		return
	}
	defer file.Close()

	result, err := timetable.ParseCSV(file, h.expander.Location())
	if err != nil {
		handleError(c, http.StatusBadRequest, err.Error(), err)
		return
	}

	created := 0
	for i := range result.Definitions {
		if err := h.store.CreateClassDefinition(&result.Definitions[i]); err != nil {
			handleError(c, http.StatusInternalServerError, "Failed to store classes", err)
			return
		}
		created++
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"classes_created": created,
		"warnings":        result.Warnings,
	})
}

// CreateClass creates one class definition manually
func (h *Handler) CreateClass(c *gin.Context) {
	var req models.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, http.StatusBadRequest, "Invalid input", err)
		return
	}
	if !req.EndDateTime.After(req.StartDateTime) {
		handleError(c, http.StatusBadRequest, "end_datetime must be after start_datetime",
			errors.New("inverted class interval"))
		return
	}

	def := models.ClassDefinition{
		Title:         req.Title,
		Room:          req.Room,
		TeacherEmail:  req.TeacherEmail,
		StartDateTime: req.StartDateTime,
		EndDateTime:   req.EndDateTime,
		Recurrence:    models.Recurrence(req.Recurrence),
	}
	if def.Recurrence == "" {
		def.Recurrence = models.RecurrenceOnce
	}

	if err := h.store.CreateClassDefinition(&def); err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to create class", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "class": def})
}

// UpcomingClasses lists occurrences of all classes starting within N hours
func (h *Handler) UpcomingClasses(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		handleError(c, http.StatusBadRequest, "hours must be a positive integer", err)
		return
	}

	defs, err := h.store.ActiveClassDefinitions()
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to load classes", err)
		return
	}

	now := time.Now()
	occs, err := h.expander.ExpandAll(defs, now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to expand occurrences", err)
		return
	}
	c.JSON(http.StatusOK, occs)
}

// DeliveryLogs returns the most recent delivery log entries, newest first
func (h *Handler) DeliveryLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		handleError(c, http.StatusBadRequest, "limit must be a positive integer", err)
		return
	}

	filter := store.LogFilter{
		ClassID: c.Query("class_id"),
		UserID:  c.Query("user_id"),
		Status:  c.Query("status"),
	}
	entries, err := h.store.QueryDeliveryLog(filter, limit)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to query delivery log", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// TestReminder sends a single-shot test reminder, bypassing scheduling and
// idempotency, and reports the immediate delivery status.
func (h *Handler) TestReminder(c *gin.Context) {
	email := c.Query("user_email")
	if email == "" {
		handleError(c, http.StatusBadRequest, "user_email is required", errors.New("missing user_email"))
		return
	}

	user, err := h.store.UserByEmail(email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			handleError(c, http.StatusInternalServerError, "Failed to look up user", err)
			return
		}
		// Admins may probe addresses that have no account yet.
		user = models.User{ID: "test", Name: email, Email: email, Preferences: models.DefaultPreferences()}
	}

	entry := h.dispatcher.SendTest(c.Request.Context(), user, time.Now())
	c.JSON(http.StatusOK, gin.H{
		"success": entry.Status == models.StatusSent,
		"status":  entry.Status,
		"detail":  entry.Response,
	})
}

// ListUsers returns all user accounts
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.store.Users()
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to list users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}
