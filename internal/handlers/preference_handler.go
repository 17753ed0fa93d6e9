package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sla-monitor/internal/models"
	"sla-monitor/internal/repository"
	"sla-monitor/internal/services"
	apperrors "sla-monitor/pkg/errors"
	"sla-monitor/pkg/response"
)

// PreferenceHandler handles per-recipient notification preference APIs.
type PreferenceHandler struct {
	prefs *repository.PreferenceRepository
}

func NewPreferenceHandler(prefs *repository.PreferenceRepository) *PreferenceHandler {
	return &PreferenceHandler{prefs: prefs}
}

// Get returns the recipient's stored preference. A recipient without a
// row gets the implicit defaults, flagged so the UI can tell them apart.
func (h *PreferenceHandler) Get(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid id")
		return
	}

	pref, err := h.prefs.GetByRecipient(c.Request.Context(), recipientID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			response.Success(c, gin.H{
				"preference": services.DefaultPreference(recipientID),
				"default":    true,
			})
			return
		}
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"preference": pref, "default": false})
}

// Update replaces the recipient's preference. Unknown channels or
// priorities and malformed quiet hours are rejected.
func (h *PreferenceHandler) Update(c *gin.Context) {
	recipientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid id")
		return
	}

	var req struct {
		Channels   map[models.Channel]bool  `json:"channels"`
		Priorities map[models.Priority]bool `json:"priorities"`
		QuietHours models.QuietHours        `json:"quiet_hours"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	for channel := range req.Channels {
		if !models.ValidChannel(channel) {
			response.Error(c, http.StatusBadRequest, "unknown channel: "+string(channel))
			return
		}
	}
	for priority := range req.Priorities {
		if !models.ValidPriority(priority) {
			response.Error(c, http.StatusBadRequest, "unknown priority: "+string(priority))
			return
		}
	}
	if err := services.ValidateQuietHours(req.QuietHours); err != nil {
		response.FromError(c, err)
		return
	}

	pref := &models.NotificationPreference{
		RecipientID: recipientID,
		Channels:    req.Channels,
		Priorities:  req.Priorities,
		QuietHours:  req.QuietHours,
	}
	if err := h.prefs.Upsert(c.Request.Context(), pref); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, pref)
}
