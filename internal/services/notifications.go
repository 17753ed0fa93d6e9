package services

import (
	"time"

	"sla-monitor/internal/models"
)

// Broadcaster publishes engine events to the real-time transport that
// feeds dashboard subscribers. Implemented by handlers.WebSocketHandler
// to avoid package cycles; the transport itself is an external concern.
type Broadcaster interface {
	SendRiskUpdate(update *RiskUpdate)
	SendAlertNotification(notification *AlertNotification)
}

// RiskUpdate is the sla:risk:update payload pushed whenever a ticket's
// assessment changes materially.
type RiskUpdate struct {
	TicketID             string    `json:"ticket_id"`
	RiskScore            float64   `json:"risk_score"`
	TimeRemainingSeconds int64     `json:"time_remaining_seconds"`
	Timestamp            time.Time `json:"timestamp"`
}

// AlertNotification is the summary pushed when an alert is emitted.
type AlertNotification struct {
	AlertID   string           `json:"alert_id"`
	TicketID  string           `json:"ticket_id"`
	Type      models.AlertType `json:"type"`
	Severity  models.Severity  `json:"severity"`
	RiskScore float64          `json:"risk_score"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}
