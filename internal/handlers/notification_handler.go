package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sla-monitor/internal/repository"
	"sla-monitor/pkg/pagination"
	"sla-monitor/pkg/response"
)

// NotificationHandler exposes the per-ticket delivery audit trail.
type NotificationHandler struct {
	records *repository.NotificationRecordRepository
}

func NewNotificationHandler(records *repository.NotificationRecordRepository) *NotificationHandler {
	return &NotificationHandler{records: records}
}

// ListByTicket returns the notification records for one ticket, most
// recent first.
func (h *NotificationHandler) ListByTicket(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("ticketId"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid ticketId")
		return
	}

	page := pagination.GetPage(c)
	limit := pagination.GetLimit(c)

	records, total, err := h.records.ListByTicket(c.Request.Context(), ticketID, page, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"data":  records,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
