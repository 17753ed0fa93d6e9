package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sla-monitor/internal/models"
	"sla-monitor/internal/repository"
	"sla-monitor/internal/services"
	"sla-monitor/pkg/pagination"
	"sla-monitor/pkg/response"
)

// SLAAlertHandler handles monitoring, history, config and status APIs.
type SLAAlertHandler struct {
	engine   *services.MonitoringEngine
	history  *repository.AlertHistoryRepository
	config   *services.ConfigStore
	stats    *services.StatisticsService
	resolver *services.PreferenceResolver
	pipeline *services.DeliveryPipeline
}

func NewSLAAlertHandler(
	engine *services.MonitoringEngine,
	history *repository.AlertHistoryRepository,
	config *services.ConfigStore,
	stats *services.StatisticsService,
	resolver *services.PreferenceResolver,
	pipeline *services.DeliveryPipeline,
) *SLAAlertHandler {
	return &SLAAlertHandler{
		engine:   engine,
		history:  history,
		config:   config,
		stats:    stats,
		resolver: resolver,
		pipeline: pipeline,
	}
}

// Monitor runs a monitoring cycle on demand. With a ticket_id in the
// body only that ticket is scanned, which is how ticket mutation events
// reach the engine.
func (h *SLAAlertHandler) Monitor(c *gin.Context) {
	var req struct {
		TicketID string `json:"ticket_id"`
	}
	// Empty body means a full cycle.
	_ = c.ShouldBindJSON(&req)

	if req.TicketID != "" {
		ticketID, err := uuid.Parse(req.TicketID)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid ticket_id")
			return
		}
		alerts, err := h.engine.CheckTicket(c.Request.Context(), ticketID)
		if err != nil {
			response.FromError(c, err)
			return
		}
		response.Success(c, gin.H{"alerts": alerts, "scanned": 1})
		return
	}

	result, err := h.engine.RunCycle(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// History lists emitted alerts most recent first with optional filters.
func (h *SLAAlertHandler) History(c *gin.Context) {
	page := pagination.GetPage(c)
	limit := pagination.GetLimit(c)

	var filter repository.AlertFilter
	if raw := c.Query("ticketId"); raw != "" {
		ticketID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid ticketId")
			return
		}
		filter.TicketID = &ticketID
	}
	if raw := c.Query("severity"); raw != "" {
		severity := models.Severity(raw)
		if !models.ValidSeverity(severity) {
			response.Error(c, http.StatusBadRequest, "invalid severity")
			return
		}
		filter.Severity = severity
	}
	filter.AlertType = models.AlertType(c.Query("type"))
	if raw := c.Query("startDate"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid startDate")
			return
		}
		filter.StartDate = &start
	}
	if raw := c.Query("endDate"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid endDate")
			return
		}
		filter.EndDate = &end
	}

	alerts, total, err := h.history.List(c.Request.Context(), page, limit, filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"data":  alerts,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetConfig returns the active alerting configuration snapshot.
func (h *SLAAlertHandler) GetConfig(c *gin.Context) {
	response.Success(c, h.config.Get())
}

// UpdateConfig applies a partial config update. Invalid threshold
// ordering is rejected and the previous config stays active.
func (h *SLAAlertHandler) UpdateConfig(c *gin.Context) {
	var req services.ConfigUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.config.Update(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, cfg)
}

// Status reports engine state with 1h/24h alert and delivery counters.
func (h *SLAAlertHandler) Status(c *gin.Context) {
	status, err := h.stats.Status(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, status)
}

// Acknowledge marks an alert acknowledged so it no longer suppresses
// re-alerts for its ticket and severity.
func (h *SLAAlertHandler) Acknowledge(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.history.Acknowledge(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"acknowledged": true})
}

// Test pushes a synthetic alert through preference resolution and the
// delivery pipeline so operators can verify channel wiring end to end.
func (h *SLAAlertHandler) Test(c *gin.Context) {
	var req struct {
		RecipientID string `json:"recipient_id" binding:"required"`
		TicketID    string `json:"ticket_id"`
		Type        string `json:"type"`
		Priority    string `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid recipient_id")
		return
	}
	ticketID := uuid.New()
	if req.TicketID != "" {
		ticketID, err = uuid.Parse(req.TicketID)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "invalid ticket_id")
			return
		}
	}
	alertType := models.AlertTypeRiskWarning
	if req.Type != "" {
		alertType = models.AlertType(req.Type)
		if !models.ValidAlertType(alertType) {
			response.Error(c, http.StatusBadRequest, "invalid type")
			return
		}
	}
	priority := models.PriorityMedium
	if req.Priority != "" {
		priority = models.Priority(req.Priority)
		if !models.ValidPriority(priority) {
			response.Error(c, http.StatusBadRequest, "invalid priority")
			return
		}
	}

	now := time.Now()
	alert := models.SLAAlert{
		ID:                   uuid.New(),
		TicketID:             ticketID,
		Type:                 alertType,
		Severity:             models.SeverityForType(alertType),
		RiskScore:            0.75,
		TimeRemainingSeconds: 1800,
		Message:              "Test alert, no action needed",
		CreatedAt:            now,
	}

	resolution, err := h.resolver.Resolve(c.Request.Context(), recipientID, alert.Type,
		priority, alert.Severity, now)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if resolution.Suppressed {
		response.Success(c, gin.H{"suppressed": true, "records": []models.NotificationRecord{}})
		return
	}

	records := h.pipeline.Deliver(c.Request.Context(), alert, priority, recipientID, resolution.Channels)
	response.Success(c, gin.H{"suppressed": false, "records": records})
}
