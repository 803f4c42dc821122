package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"classbell/internal/auth"
	"classbell/internal/models"
	"classbell/internal/schedule"
)

// MyTimetable lists every live class assigned to the caller
func (h *Handler) MyTimetable(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		handleError(c, http.StatusUnauthorized, "authentication required", errors.New("no principal in context"))
		return
	}

	defs, err := h.store.ClassesByTeacher(user.Email)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to load timetable", err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

// MyUpcomingClasses lists the caller's class occurrences within N days
func (h *Handler) MyUpcomingClasses(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		handleError(c, http.StatusUnauthorized, "authentication required", errors.New("no principal in context"))
		return
	}

	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		handleError(c, http.StatusBadRequest, "days must be a positive integer", err)
		return
	}

	defs, err := h.store.ClassesByTeacher(user.Email)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to load classes", err)
		return
	}

	now := time.Now()
	occs, err := h.expander.ExpandAll(defs, now, now.AddDate(0, 0, days))
	if err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to expand occurrences", err)
		return
	}
	c.JSON(http.StatusOK, occs)
}

// UpdatePreferences upserts the caller's notification preferences. Partial
// updates are allowed; omitted fields keep their stored value.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		handleError(c, http.StatusUnauthorized, "authentication required", errors.New("no principal in context"))
		return
	}

	var req models.UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, http.StatusBadRequest, "Invalid input", err)
		return
	}

	prefs := user.Preferences
	if req.Enabled != nil {
		prefs.Enabled = *req.Enabled
	}
	if req.LeadTimeMinutes != nil {
		if !models.IsAllowedLeadTime(*req.LeadTimeMinutes) {
			handleError(c, http.StatusBadRequest,
				fmt.Sprintf("lead_time_minutes must be one of %v", models.AllowedLeadTimes),
				fmt.Errorf("invalid lead time %d", *req.LeadTimeMinutes))
			return
		}
		prefs.LeadTimeMinutes = *req.LeadTimeMinutes
	}
	if req.Channels != nil {
		prefs.Channels = *req.Channels
	}
	if req.QuietHours != nil {
		// Bounds must be well-formed even on a disabled window; a disabled
		// window may only leave them empty.
		q := *req.QuietHours
		startOK := schedule.ValidClock(q.Start) || (!q.Enabled && q.Start == "")
		endOK := schedule.ValidClock(q.End) || (!q.Enabled && q.End == "")
		if !startOK || !endOK {
			handleError(c, http.StatusBadRequest, "quiet_hours start/end must be HH:MM times",
				fmt.Errorf("invalid quiet hours %q-%q", q.Start, q.End))
			return
		}
		prefs.QuietHours = q
	}

	if err := h.store.UpdatePreferences(user.ID, prefs); err != nil {
		handleError(c, http.StatusInternalServerError, "Failed to update preferences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "preferences": prefs})
}
