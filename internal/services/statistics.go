package services

import (
	"context"
	"time"

	"sla-monitor/internal/models"
)

// AlertStatsSource supplies windowed alert counts. Implemented by
// repository.AlertHistoryRepository.
type AlertStatsSource interface {
	CountSince(ctx context.Context, since time.Time) (byType map[models.AlertType]int64, bySeverity map[models.Severity]int64, err error)
}

// DeliveryStatsSource supplies windowed delivery counts per channel.
// Implemented by repository.NotificationRecordRepository.
type DeliveryStatsSource interface {
	CountByChannelSince(ctx context.Context, since time.Time) (map[models.Channel]ChannelStats, error)
}

// ChannelStats 单渠道投递统计
type ChannelStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// WindowStats 单时间窗口统计
type WindowStats struct {
	Total      int64                           `json:"total"`
	ByType     map[models.AlertType]int64      `json:"by_type"`
	BySeverity map[models.Severity]int64       `json:"by_severity"`
	Channels   map[models.Channel]ChannelStats `json:"channels"`
}

// EngineStatus 引擎运行状态
type EngineStatus struct {
	Enabled     bool                     `json:"enabled"`
	Config      models.SLAAlertingConfig `json:"config"`
	LastHour    WindowStats              `json:"last_hour"`
	LastDay     WindowStats              `json:"last_day"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// StatisticsService aggregates alert and delivery counters for the
// status endpoint.
type StatisticsService struct {
	alerts     AlertStatsSource
	deliveries DeliveryStatsSource
	config     *ConfigStore
	clock      Clock
}

func NewStatisticsService(alerts AlertStatsSource, deliveries DeliveryStatsSource,
	config *ConfigStore, clock Clock) *StatisticsService {
	if clock == nil {
		clock = RealClock{}
	}
	return &StatisticsService{alerts: alerts, deliveries: deliveries, config: config, clock: clock}
}

// Status builds the full engine status: active config plus 1h and 24h
// alert/delivery counters.
func (s *StatisticsService) Status(ctx context.Context) (*EngineStatus, error) {
	now := s.clock.Now()
	cfg := s.config.Get()

	hour, err := s.window(ctx, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	day, err := s.window(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	return &EngineStatus{
		Enabled:     cfg.Enabled,
		Config:      cfg,
		LastHour:    hour,
		LastDay:     day,
		GeneratedAt: now,
	}, nil
}

func (s *StatisticsService) window(ctx context.Context, since time.Time) (WindowStats, error) {
	byType, bySeverity, err := s.alerts.CountSince(ctx, since)
	if err != nil {
		return WindowStats{}, err
	}
	channels, err := s.deliveries.CountByChannelSince(ctx, since)
	if err != nil {
		return WindowStats{}, err
	}

	var total int64
	for _, n := range byType {
		total += n
	}
	return WindowStats{
		Total:      total,
		ByType:     byType,
		BySeverity: bySeverity,
		Channels:   channels,
	}, nil
}
