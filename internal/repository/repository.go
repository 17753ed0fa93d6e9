package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"

	"sla-monitor/internal/models"
	"sla-monitor/internal/services"
	apperrors "sla-monitor/pkg/errors"
)

type Database struct {
	Pool *pgxpool.Pool
}

func NewDatabase() (*Database, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.username"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.name"),
		viper.GetString("database.sslmode"),
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	maxOpen := viper.GetInt("database.max_open_conns")
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := viper.GetInt("database.max_idle_conns")
	if maxIdle <= 0 {
		maxIdle = 5
	}
	maxLifetime := viper.GetInt("database.conn_max_lifetime")
	if maxLifetime <= 0 {
		maxLifetime = 300
	}
	config.MaxConns = int32(maxOpen)
	config.MinConns = int32(maxIdle)
	config.MaxConnLifetime = time.Duration(maxLifetime) * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

func (d *Database) Close() {
	d.Pool.Close()
}

// SLAAlert Repository
type AlertHistoryRepository struct {
	db *Database
}

func NewAlertHistoryRepository(db *Database) *AlertHistoryRepository {
	return &AlertHistoryRepository{db: db}
}

func (r *AlertHistoryRepository) Append(ctx context.Context, alert *models.SLAAlert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sla_alerts (id, ticket_id, type, severity, risk_score, time_remaining_seconds, message, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, alert.ID, alert.TicketID, alert.Type, alert.Severity, alert.RiskScore,
		alert.TimeRemainingSeconds, alert.Message, alert.Acknowledged, alert.CreatedAt)
	return err
}

func (r *AlertHistoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SLAAlert, error) {
	var alert models.SLAAlert
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, ticket_id, type, severity, risk_score, time_remaining_seconds, message, acknowledged, created_at
		FROM sla_alerts WHERE id = $1
	`, id).Scan(&alert.ID, &alert.TicketID, &alert.Type, &alert.Severity, &alert.RiskScore,
		&alert.TimeRemainingSeconds, &alert.Message, &alert.Acknowledged, &alert.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("sla_alert", id.String())
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// AlertFilter narrows an alert history query. Nil and empty fields are
// ignored.
type AlertFilter struct {
	TicketID  *uuid.UUID
	AlertType models.AlertType
	Severity  models.Severity
	StartDate *time.Time
	EndDate   *time.Time
}

// List returns alerts most recent first.
func (r *AlertHistoryRepository) List(ctx context.Context, page, pageSize int, filter AlertFilter) ([]models.SLAAlert, int, error) {
	offset := (page - 1) * pageSize

	var alerts []models.SLAAlert
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, ticket_id, type, severity, risk_score, time_remaining_seconds, message, acknowledged, created_at
		FROM sla_alerts
		WHERE ($1::uuid IS NULL OR ticket_id = $1)
		AND ($2 = '' OR type = $2)
		AND ($3 = '' OR severity = $3)
		AND ($4::timestamptz IS NULL OR created_at >= $4)
		AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at DESC
		LIMIT $6 OFFSET $7
	`, filter.TicketID, string(filter.AlertType), string(filter.Severity),
		filter.StartDate, filter.EndDate, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var alert models.SLAAlert
		if err := rows.Scan(&alert.ID, &alert.TicketID, &alert.Type, &alert.Severity, &alert.RiskScore,
			&alert.TimeRemainingSeconds, &alert.Message, &alert.Acknowledged, &alert.CreatedAt); err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}

	var total int
	err = r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sla_alerts
		WHERE ($1::uuid IS NULL OR ticket_id = $1)
		AND ($2 = '' OR type = $2)
		AND ($3 = '' OR severity = $3)
		AND ($4::timestamptz IS NULL OR created_at >= $4)
		AND ($5::timestamptz IS NULL OR created_at <= $5)
	`, filter.TicketID, string(filter.AlertType), string(filter.Severity),
		filter.StartDate, filter.EndDate).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return alerts, total, nil
}

// LatestUnacknowledged returns the most recent unacknowledged alert for
// the ticket at the given severity, or a NotFoundError when none exists.
func (r *AlertHistoryRepository) LatestUnacknowledged(ctx context.Context, ticketID uuid.UUID,
	severity models.Severity) (*models.SLAAlert, error) {
	var alert models.SLAAlert
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, ticket_id, type, severity, risk_score, time_remaining_seconds, message, acknowledged, created_at
		FROM sla_alerts
		WHERE ticket_id = $1 AND severity = $2 AND acknowledged = false
		ORDER BY created_at DESC
		LIMIT 1
	`, ticketID, severity).Scan(&alert.ID, &alert.TicketID, &alert.Type, &alert.Severity, &alert.RiskScore,
		&alert.TimeRemainingSeconds, &alert.Message, &alert.Acknowledged, &alert.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("sla_alert", ticketID.String())
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// Acknowledge marks an alert acknowledged, ending its cooldown window.
func (r *AlertHistoryRepository) Acknowledge(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE sla_alerts SET acknowledged = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFound("sla_alert", id.String())
	}
	return nil
}

func (r *AlertHistoryRepository) CountSince(ctx context.Context, since time.Time) (map[models.AlertType]int64, map[models.Severity]int64, error) {
	byType := make(map[models.AlertType]int64)
	bySeverity := make(map[models.Severity]int64)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT type, severity, COUNT(*)
		FROM sla_alerts
		WHERE created_at >= $1
		GROUP BY type, severity
	`, since)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var alertType models.AlertType
		var severity models.Severity
		var count int64
		if err := rows.Scan(&alertType, &severity, &count); err != nil {
			return nil, nil, err
		}
		byType[alertType] += count
		bySeverity[severity] += count
	}
	return byType, bySeverity, rows.Err()
}

// NotificationPreference Repository
type PreferenceRepository struct {
	db *Database
}

func NewPreferenceRepository(db *Database) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

func (r *PreferenceRepository) GetByRecipient(ctx context.Context, recipientID uuid.UUID) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := r.db.Pool.QueryRow(ctx, `
		SELECT recipient_id, channels, priorities, quiet_hours, updated_at
		FROM notification_preferences WHERE recipient_id = $1
	`, recipientID).Scan(&pref.RecipientID, &pref.Channels, &pref.Priorities, &pref.QuietHours, &pref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("notification_preference", recipientID.String())
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (r *PreferenceRepository) Upsert(ctx context.Context, pref *models.NotificationPreference) error {
	pref.UpdatedAt = time.Now()
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notification_preferences (recipient_id, channels, priorities, quiet_hours, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (recipient_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			priorities = EXCLUDED.priorities,
			quiet_hours = EXCLUDED.quiet_hours,
			updated_at = EXCLUDED.updated_at
	`, pref.RecipientID, pref.Channels, pref.Priorities, pref.QuietHours, pref.UpdatedAt)
	return err
}

// NotificationRecord Repository
type NotificationRecordRepository struct {
	db *Database
}

func NewNotificationRecordRepository(db *Database) *NotificationRecordRepository {
	return &NotificationRecordRepository{db: db}
}

func (r *NotificationRecordRepository) Create(ctx context.Context, record *models.NotificationRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notification_records (id, ticket_id, alert_id, recipient_id, channel, type, status, is_fallback, attempts, delivered_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, record.ID, record.TicketID, record.AlertID, record.RecipientID, record.Channel, record.Type,
		record.Status, record.IsFallback, record.Attempts, record.DeliveredAt, record.Error, record.CreatedAt)
	return err
}

func (r *NotificationRecordRepository) ListByTicket(ctx context.Context, ticketID uuid.UUID, page, pageSize int) ([]models.NotificationRecord, int, error) {
	offset := (page - 1) * pageSize

	var records []models.NotificationRecord
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, ticket_id, alert_id, recipient_id, channel, type, status, is_fallback, attempts, delivered_at, error, created_at
		FROM notification_records
		WHERE ticket_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ticketID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var record models.NotificationRecord
		if err := rows.Scan(&record.ID, &record.TicketID, &record.AlertID, &record.RecipientID,
			&record.Channel, &record.Type, &record.Status, &record.IsFallback, &record.Attempts,
			&record.DeliveredAt, &record.Error, &record.CreatedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, record)
	}

	var total int
	err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_records WHERE ticket_id = $1`, ticketID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

func (r *NotificationRecordRepository) CountByChannelSince(ctx context.Context, since time.Time) (map[models.Channel]services.ChannelStats, error) {
	stats := make(map[models.Channel]services.ChannelStats)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT channel,
			COUNT(*) FILTER (WHERE status = 'delivered') as delivered,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM notification_records
		WHERE created_at >= $1
		GROUP BY channel
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var channel models.Channel
		var cs services.ChannelStats
		if err := rows.Scan(&channel, &cs.Delivered, &cs.Failed); err != nil {
			return nil, err
		}
		stats[channel] = cs
	}
	return stats, rows.Err()
}

// NotificationTemplate Repository
type NotificationTemplateRepository struct {
	db *Database
}

func NewNotificationTemplateRepository(db *Database) *NotificationTemplateRepository {
	return &NotificationTemplateRepository{db: db}
}

func (r *NotificationTemplateRepository) Create(ctx context.Context, tmpl *models.NotificationTemplate) error {
	tmpl.ID = uuid.New()
	tmpl.CreatedAt = time.Now()
	tmpl.UpdatedAt = time.Now()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO notification_templates (id, name, channel, priority, alert_type, subject, body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tmpl.ID, tmpl.Name, tmpl.Channel, tmpl.Priority, tmpl.AlertType, tmpl.Subject, tmpl.Body,
		tmpl.Status, tmpl.CreatedAt, tmpl.UpdatedAt)
	return err
}

// FindBestMatch picks the enabled template whose channel matches and
// whose priority/type either match exactly or are wildcards. Exact
// matches outrank wildcards.
func (r *NotificationTemplateRepository) FindBestMatch(ctx context.Context, channel models.Channel,
	priority models.Priority, alertType models.AlertType) (*models.NotificationTemplate, error) {
	var tmpl models.NotificationTemplate
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, name, channel, priority, alert_type, subject, body, status, created_at, updated_at
		FROM notification_templates
		WHERE channel = $1 AND status = 1
		AND (priority = $2 OR priority = '')
		AND (alert_type = $3 OR alert_type = '')
		ORDER BY (priority = $2)::int + (alert_type = $3)::int DESC, updated_at DESC
		LIMIT 1
	`, channel, string(priority), string(alertType)).Scan(&tmpl.ID, &tmpl.Name, &tmpl.Channel,
		&tmpl.Priority, &tmpl.AlertType, &tmpl.Subject, &tmpl.Body, &tmpl.Status, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("notification_template", string(channel))
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (r *NotificationTemplateRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM notification_templates`).Scan(&total)
	return total, err
}

// Ticket Repository（只读投影，工单子系统负责写入）
type TicketRepository struct {
	db *Database
}

func NewTicketRepository(db *Database) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) ListOpen(ctx context.Context) ([]models.TicketSnapshot, error) {
	var tickets []models.TicketSnapshot
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, priority, status, created_at, sla_deadline, assigned_technician_id, escalation_level
		FROM tickets
		WHERE status NOT IN ('resolved', 'closed')
		ORDER BY sla_deadline ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var ticket models.TicketSnapshot
		if err := rows.Scan(&ticket.ID, &ticket.Priority, &ticket.Status, &ticket.CreatedAt,
			&ticket.SLADeadline, &ticket.AssignedTechnicianID, &ticket.EscalationLevel); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TicketSnapshot, error) {
	var ticket models.TicketSnapshot
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, priority, status, created_at, sla_deadline, assigned_technician_id, escalation_level
		FROM tickets WHERE id = $1
	`, id).Scan(&ticket.ID, &ticket.Priority, &ticket.Status, &ticket.CreatedAt,
		&ticket.SLADeadline, &ticket.AssignedTechnicianID, &ticket.EscalationLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("ticket", id.String())
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// AlertingConfig Repository（单行表，引擎配置持久化）
type AlertingConfigRepository struct {
	db *Database
}

func NewAlertingConfigRepository(db *Database) *AlertingConfigRepository {
	return &AlertingConfigRepository{db: db}
}

func (r *AlertingConfigRepository) Load(ctx context.Context) (*models.SLAAlertingConfig, error) {
	var cfg models.SLAAlertingConfig
	err := r.db.Pool.QueryRow(ctx, `
		SELECT enabled, risk_medium, risk_high, risk_critical,
			escalation_level1, escalation_level2, escalation_level3,
			scan_interval_ms, cooldown_ms
		FROM sla_alerting_config WHERE id = 1
	`).Scan(&cfg.Enabled, &cfg.RiskThresholds.Medium, &cfg.RiskThresholds.High, &cfg.RiskThresholds.Critical,
		&cfg.EscalationThresholds.Level1, &cfg.EscalationThresholds.Level2, &cfg.EscalationThresholds.Level3,
		&cfg.ScanIntervalMs, &cfg.CooldownMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFound("sla_alerting_config", "1")
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *AlertingConfigRepository) Save(ctx context.Context, cfg models.SLAAlertingConfig) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sla_alerting_config (id, enabled, risk_medium, risk_high, risk_critical,
			escalation_level1, escalation_level2, escalation_level3, scan_interval_ms, cooldown_ms, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			risk_medium = EXCLUDED.risk_medium,
			risk_high = EXCLUDED.risk_high,
			risk_critical = EXCLUDED.risk_critical,
			escalation_level1 = EXCLUDED.escalation_level1,
			escalation_level2 = EXCLUDED.escalation_level2,
			escalation_level3 = EXCLUDED.escalation_level3,
			scan_interval_ms = EXCLUDED.scan_interval_ms,
			cooldown_ms = EXCLUDED.cooldown_ms,
			updated_at = EXCLUDED.updated_at
	`, cfg.Enabled, cfg.RiskThresholds.Medium, cfg.RiskThresholds.High, cfg.RiskThresholds.Critical,
		cfg.EscalationThresholds.Level1, cfg.EscalationThresholds.Level2, cfg.EscalationThresholds.Level3,
		cfg.ScanIntervalMs, cfg.CooldownMs, time.Now())
	return err
}

// User Repository（接收人目录，投递地址查询）
type UserRepository struct {
	db *Database
}

func NewUserRepository(db *Database) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) SlackUserID(ctx context.Context, recipientID uuid.UUID) (string, error) {
	var slackUserID string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(slack_user_id, '') FROM users WHERE id = $1
	`, recipientID).Scan(&slackUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NewNotFound("user", recipientID.String())
	}
	if err != nil {
		return "", err
	}
	if slackUserID == "" {
		return "", apperrors.NewNotFound("slack_user_id", recipientID.String())
	}
	return slackUserID, nil
}

func (r *UserRepository) EmailAddress(ctx context.Context, recipientID uuid.UUID) (string, error) {
	var email string
	err := r.db.Pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, recipientID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperrors.NewNotFound("user", recipientID.String())
	}
	if err != nil {
		return "", err
	}
	return email, nil
}
