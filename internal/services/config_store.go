package services

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

// ConfigPersister stores the single alerting-config row. Implemented by
// repository.AlertingConfigRepository; nil is allowed (memory-only store).
type ConfigPersister interface {
	Load(ctx context.Context) (*models.SLAAlertingConfig, error)
	Save(ctx context.Context, cfg models.SLAAlertingConfig) error
}

// ConfigUpdate is a partial update; nil fields keep the current value.
type ConfigUpdate struct {
	Enabled              *bool                        `json:"enabled"`
	RiskThresholds       *models.RiskThresholds       `json:"risk_thresholds"`
	EscalationThresholds *models.EscalationThresholds `json:"escalation_thresholds"`
	ScanIntervalMs       *int64                       `json:"scan_interval_ms"`
	CooldownMs           *int64                       `json:"cooldown_ms"`
}

// ConfigStore holds the process-wide SLAAlertingConfig behind an atomic
// pointer: reads take a snapshot without locking, updates validate then
// swap the whole value. Writes are serialized.
type ConfigStore struct {
	current   atomic.Pointer[models.SLAAlertingConfig]
	updateMu  sync.Mutex
	persister ConfigPersister
}

// DefaultAlertingConfig mirrors the risk ladder the help-desk service
// shipped with: warnings from 0.50, critical from 0.90, escalation
// kicking in at 0.60/0.80/0.95.
func DefaultAlertingConfig() models.SLAAlertingConfig {
	return models.SLAAlertingConfig{
		Enabled: true,
		RiskThresholds: models.RiskThresholds{
			Medium:   0.50,
			High:     0.75,
			Critical: 0.90,
		},
		EscalationThresholds: models.EscalationThresholds{
			Level1: 0.60,
			Level2: 0.80,
			Level3: 0.95,
		},
		ScanIntervalMs: 60_000,
		CooldownMs:     30 * 60 * 1000,
	}
}

// NewConfigStore builds a store seeded with defaults. When a persister is
// given, a previously saved row overrides the defaults.
func NewConfigStore(ctx context.Context, persister ConfigPersister) *ConfigStore {
	s := &ConfigStore{persister: persister}
	cfg := DefaultAlertingConfig()
	if persister != nil {
		if saved, err := persister.Load(ctx); err != nil {
			log.Printf("ConfigStore: load persisted config: %v (using defaults)", err)
		} else if saved != nil {
			cfg = *saved
		}
	}
	s.current.Store(&cfg)
	return s
}

// Get returns a value copy of the current config snapshot.
func (s *ConfigStore) Get() models.SLAAlertingConfig {
	return *s.current.Load()
}

// Update validates the partial update against the merged config and swaps
// the snapshot atomically. Invalid updates leave the store untouched.
func (s *ConfigStore) Update(ctx context.Context, update ConfigUpdate) (models.SLAAlertingConfig, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	merged := *s.current.Load()
	if update.Enabled != nil {
		merged.Enabled = *update.Enabled
	}
	if update.RiskThresholds != nil {
		merged.RiskThresholds = *update.RiskThresholds
	}
	if update.EscalationThresholds != nil {
		merged.EscalationThresholds = *update.EscalationThresholds
	}
	if update.ScanIntervalMs != nil {
		merged.ScanIntervalMs = *update.ScanIntervalMs
	}
	if update.CooldownMs != nil {
		merged.CooldownMs = *update.CooldownMs
	}

	if err := ValidateAlertingConfig(merged); err != nil {
		return models.SLAAlertingConfig{}, err
	}

	if s.persister != nil {
		if err := s.persister.Save(ctx, merged); err != nil {
			return models.SLAAlertingConfig{}, err
		}
	}
	s.current.Store(&merged)
	return merged, nil
}

// ValidateAlertingConfig enforces the threshold invariants: risk and
// escalation thresholds each strictly ascending, all within (0,1], and
// positive intervals.
func ValidateAlertingConfig(cfg models.SLAAlertingConfig) error {
	rt := cfg.RiskThresholds
	if rt.Medium <= 0 || rt.Critical > 1.0 {
		return apperrors.NewValidationError("risk_thresholds", "must lie in (0, 1.0]")
	}
	if !(rt.Medium < rt.High && rt.High < rt.Critical) {
		return apperrors.NewValidationError("risk_thresholds", "must be strictly ascending (medium < high < critical)")
	}
	et := cfg.EscalationThresholds
	if et.Level1 <= 0 || et.Level3 > 1.0 {
		return apperrors.NewValidationError("escalation_thresholds", "must lie in (0, 1.0]")
	}
	if !(et.Level1 < et.Level2 && et.Level2 < et.Level3) {
		return apperrors.NewValidationError("escalation_thresholds", "must be strictly ascending (level1 < level2 < level3)")
	}
	if cfg.ScanIntervalMs <= 0 {
		return apperrors.NewValidationError("scan_interval_ms", "must be positive")
	}
	if cfg.CooldownMs < 0 {
		return apperrors.NewValidationError("cooldown_ms", "must not be negative")
	}
	return nil
}
