package models

import (
	"time"

	"github.com/google/uuid"
)

// Priority 工单优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// AlertType 告警类型
type AlertType string

const (
	AlertTypeRiskWarning  AlertType = "risk_warning"
	AlertTypeRiskCritical AlertType = "risk_critical"
	AlertTypeBreach       AlertType = "breach"
	AlertTypeEscalation   AlertType = "escalation"
)

// ValidAlertType reports whether t is one of the known alert types.
func ValidAlertType(t AlertType) bool {
	switch t {
	case AlertTypeRiskWarning, AlertTypeRiskCritical, AlertTypeBreach, AlertTypeEscalation:
		return true
	}
	return false
}

// Severity 告警严重级别
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityBreach   Severity = "breach"
)

// ValidSeverity reports whether s is one of the known severities.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityWarning, SeverityCritical, SeverityBreach:
		return true
	}
	return false
}

// Channel 通知渠道
type Channel string

const (
	ChannelSlack Channel = "slack"
	ChannelTeams Channel = "teams"
	ChannelEmail Channel = "email"
)

// ChannelOrder is the fixed fan-out order: chat tool first, conferencing
// tool second, email last. DeliveryPipeline walks this order so fallback
// behavior is deterministic.
var ChannelOrder = []Channel{ChannelSlack, ChannelTeams, ChannelEmail}

// FallbackChannel is attempted when every preferred channel fails.
const FallbackChannel = ChannelEmail

// ValidChannel reports whether c is one of the known channels.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelSlack, ChannelTeams, ChannelEmail:
		return true
	}
	return false
}

// TicketSnapshot 工单快照（只读投影，工单子系统负责维护）
type TicketSnapshot struct {
	ID                   uuid.UUID  `json:"id"`
	Priority             Priority   `json:"priority"`
	Status               string     `json:"status"` // open, in_progress, resolved, closed
	CreatedAt            time.Time  `json:"created_at"`
	SLADeadline          time.Time  `json:"sla_deadline"`
	AssignedTechnicianID *uuid.UUID `json:"assigned_technician_id"`
	EscalationLevel      int        `json:"escalation_level"`
}

// Open reports whether the ticket is still eligible for SLA monitoring.
func (t TicketSnapshot) Open() bool {
	return t.Status != "resolved" && t.Status != "closed"
}

// RiskAssessment 风险评估（每个周期重新计算，不单独持久化）
type RiskAssessment struct {
	TicketID             uuid.UUID `json:"ticket_id"`
	RiskScore            float64   `json:"risk_score"`
	TimeRemainingSeconds int64     `json:"time_remaining_seconds"`
	ComputedAt           time.Time `json:"computed_at"`
}

// Breached reports whether the deadline has already passed.
func (a RiskAssessment) Breached() bool {
	return a.TimeRemainingSeconds <= 0
}

// SLAAlert SLA 告警（创建后不可变，追加写入历史表）
type SLAAlert struct {
	ID                   uuid.UUID `json:"id"`
	TicketID             uuid.UUID `json:"ticket_id"`
	Type                 AlertType `json:"type"`
	Severity             Severity  `json:"severity"`
	RiskScore            float64   `json:"risk_score"`
	TimeRemainingSeconds int64     `json:"time_remaining_seconds"`
	Message              string    `json:"message"`
	Acknowledged         bool      `json:"acknowledged"`
	CreatedAt            time.Time `json:"created_at"`
}

// RiskThresholds 风险阈值，必须严格递增且不超过 1.0
type RiskThresholds struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// EscalationThresholds 升级阈值，必须严格递增且不超过 1.0
type EscalationThresholds struct {
	Level1 float64 `json:"level1"`
	Level2 float64 `json:"level2"`
	Level3 float64 `json:"level3"`
}

// SLAAlertingConfig 告警引擎配置（进程级单例，copy-on-write 快照）
type SLAAlertingConfig struct {
	Enabled              bool                 `json:"enabled"`
	RiskThresholds       RiskThresholds       `json:"risk_thresholds"`
	EscalationThresholds EscalationThresholds `json:"escalation_thresholds"`
	ScanIntervalMs       int64                `json:"scan_interval_ms"`
	CooldownMs           int64                `json:"cooldown_ms"`
}

// ScanInterval returns the scan interval as a duration.
func (c SLAAlertingConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}

// Cooldown returns the re-alert cooldown as a duration.
func (c SLAAlertingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// QuietHours 免打扰窗口（本地时间，支持跨午夜）
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // HH:MM
	End     string `json:"end"`   // HH:MM
}

// NotificationPreference 通知偏好（按接收人一条）
type NotificationPreference struct {
	RecipientID uuid.UUID         `json:"recipient_id"`
	Channels    map[Channel]bool  `json:"channels"`
	Priorities  map[Priority]bool `json:"priorities"`
	QuietHours  QuietHours        `json:"quiet_hours"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// DeliveryStatus 投递状态
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// NotificationRecord 投递记录（每个渠道一条，覆盖该渠道的整个重试链）
type NotificationRecord struct {
	ID          uuid.UUID      `json:"id"`
	TicketID    uuid.UUID      `json:"ticket_id"`
	AlertID     uuid.UUID      `json:"alert_id"`
	RecipientID uuid.UUID      `json:"recipient_id"`
	Channel     Channel        `json:"channel"`
	Type        AlertType      `json:"type"`
	Status      DeliveryStatus `json:"status"`
	IsFallback  bool           `json:"is_fallback"`
	Attempts    int            `json:"attempts"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NotificationTemplate 通知模板（按渠道+优先级+类型匹配，缺省回落默认模板）
type NotificationTemplate struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Channel   Channel   `json:"channel"`
	Priority  Priority  `json:"priority"`   // empty matches any priority
	AlertType AlertType `json:"alert_type"` // empty matches any type
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    int       `json:"status"` // 0: disabled, 1: enabled
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SeverityForType maps an alert type to the severity it is emitted with.
func SeverityForType(t AlertType) Severity {
	switch t {
	case AlertTypeBreach:
		return SeverityBreach
	case AlertTypeRiskCritical, AlertTypeEscalation:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}
