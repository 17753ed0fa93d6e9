package services

import (
	"context"
	"errors"
	"testing"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

type fakePersister struct {
	saved   []models.SLAAlertingConfig
	loadCfg *models.SLAAlertingConfig
	saveErr error
}

func (p *fakePersister) Load(ctx context.Context) (*models.SLAAlertingConfig, error) {
	if p.loadCfg == nil {
		return nil, apperrors.NewNotFound("sla_alerting_config", "1")
	}
	return p.loadCfg, nil
}

func (p *fakePersister) Save(ctx context.Context, cfg models.SLAAlertingConfig) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saved = append(p.saved, cfg)
	return nil
}

func TestConfigStoreDefaults(t *testing.T) {
	store := NewConfigStore(context.Background(), nil)
	cfg := store.Get()

	if !cfg.Enabled {
		t.Error("default config should be enabled")
	}
	if cfg.RiskThresholds.Medium != 0.50 || cfg.RiskThresholds.Critical != 0.90 {
		t.Errorf("unexpected default risk thresholds: %+v", cfg.RiskThresholds)
	}
	if err := ValidateAlertingConfig(cfg); err != nil {
		t.Errorf("default config fails its own validation: %v", err)
	}
}

func TestConfigStoreLoadsPersisted(t *testing.T) {
	persisted := DefaultAlertingConfig()
	persisted.ScanIntervalMs = 5000
	store := NewConfigStore(context.Background(), &fakePersister{loadCfg: &persisted})

	if got := store.Get().ScanIntervalMs; got != 5000 {
		t.Errorf("ScanIntervalMs = %d, want 5000", got)
	}
}

func TestConfigStoreUpdate(t *testing.T) {
	persister := &fakePersister{}
	store := NewConfigStore(context.Background(), persister)

	interval := int64(10_000)
	updated, err := store.Update(context.Background(), ConfigUpdate{ScanIntervalMs: &interval})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.ScanIntervalMs != 10_000 {
		t.Errorf("updated ScanIntervalMs = %d, want 10000", updated.ScanIntervalMs)
	}
	if got := store.Get().ScanIntervalMs; got != 10_000 {
		t.Errorf("snapshot ScanIntervalMs = %d, want 10000", got)
	}
	if len(persister.saved) != 1 {
		t.Errorf("persisted %d times, want 1", len(persister.saved))
	}
	// Unmentioned fields keep their values.
	if got := store.Get().RiskThresholds; got != DefaultAlertingConfig().RiskThresholds {
		t.Errorf("risk thresholds changed on unrelated update: %+v", got)
	}
}

func TestConfigStoreRejectsInvalidUpdate(t *testing.T) {
	tests := []struct {
		name   string
		update ConfigUpdate
	}{
		{
			"non-ascending risk thresholds",
			ConfigUpdate{RiskThresholds: &models.RiskThresholds{Medium: 0.9, High: 0.5, Critical: 0.95}},
		},
		{
			"risk threshold above one",
			ConfigUpdate{RiskThresholds: &models.RiskThresholds{Medium: 0.5, High: 0.8, Critical: 1.5}},
		},
		{
			"non-ascending escalation thresholds",
			ConfigUpdate{EscalationThresholds: &models.EscalationThresholds{Level1: 0.8, Level2: 0.8, Level3: 0.9}},
		},
		{
			"zero scan interval",
			ConfigUpdate{ScanIntervalMs: func() *int64 { v := int64(0); return &v }()},
		},
		{
			"negative cooldown",
			ConfigUpdate{CooldownMs: func() *int64 { v := int64(-1); return &v }()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewConfigStore(context.Background(), nil)
			before := store.Get()

			_, err := store.Update(context.Background(), tt.update)
			if err == nil {
				t.Fatal("Update() expected error")
			}
			if !apperrors.IsValidation(err) {
				t.Errorf("Update() error = %v, want validation error", err)
			}
			if store.Get() != before {
				t.Error("invalid update mutated the active config")
			}
		})
	}
}

func TestConfigStorePersistFailureKeepsOldConfig(t *testing.T) {
	persister := &fakePersister{saveErr: errors.New("db down")}
	store := NewConfigStore(context.Background(), persister)
	before := store.Get()

	interval := int64(10_000)
	if _, err := store.Update(context.Background(), ConfigUpdate{ScanIntervalMs: &interval}); err == nil {
		t.Fatal("Update() expected persist error")
	}
	if store.Get() != before {
		t.Error("failed persist still swapped the snapshot")
	}
}
