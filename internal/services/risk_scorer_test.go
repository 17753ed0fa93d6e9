package services

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

func TestRiskScorerProgressCurve(t *testing.T) {
	scorer := NewRiskScorer()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deadline := created.Add(100 * time.Minute)

	tests := []struct {
		name      string
		now       time.Time
		wantScore float64
	}{
		{"at creation", created, 0.0},
		{"quarter through", created.Add(25 * time.Minute), 0.0625},
		{"halfway", created.Add(50 * time.Minute), 0.25},
		{"ninety percent", created.Add(90 * time.Minute), 0.81},
		{"before creation clamps to zero", created.Add(-10 * time.Minute), 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ticket := models.TicketSnapshot{
				ID:          uuid.New(),
				Priority:    models.PriorityHigh,
				Status:      "open",
				CreatedAt:   created,
				SLADeadline: deadline,
			}
			got, err := scorer.Score(ticket, tt.now)
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if math.Abs(got.RiskScore-tt.wantScore) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got.RiskScore, tt.wantScore)
			}
		})
	}
}

func TestRiskScorerBreach(t *testing.T) {
	scorer := NewRiskScorer()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := models.TicketSnapshot{
		ID:          uuid.New(),
		CreatedAt:   created,
		SLADeadline: created.Add(time.Hour),
	}

	got, err := scorer.Score(ticket, created.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if got.RiskScore != 1.0 {
		t.Errorf("breached score = %v, want 1.0", got.RiskScore)
	}
	if !got.Breached() {
		t.Error("Breached() = false, want true")
	}
	if got.TimeRemainingSeconds != -30*60 {
		t.Errorf("TimeRemainingSeconds = %d, want %d", got.TimeRemainingSeconds, -30*60)
	}

	// Exactly at the deadline counts as breached.
	atDeadline, err := scorer.Score(ticket, ticket.SLADeadline)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if atDeadline.RiskScore != 1.0 || !atDeadline.Breached() {
		t.Errorf("score at deadline = %v (breached %v), want 1.0 breached", atDeadline.RiskScore, atDeadline.Breached())
	}
}

func TestRiskScorerMonotonic(t *testing.T) {
	scorer := NewRiskScorer()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := models.TicketSnapshot{
		ID:          uuid.New(),
		CreatedAt:   created,
		SLADeadline: created.Add(4 * time.Hour),
	}

	prev := -1.0
	for minute := 0; minute <= 300; minute += 10 {
		got, err := scorer.Score(ticket, created.Add(time.Duration(minute)*time.Minute))
		if err != nil {
			t.Fatalf("Score() at %dm error = %v", minute, err)
		}
		if got.RiskScore < prev {
			t.Fatalf("score decreased from %v to %v at %dm", prev, got.RiskScore, minute)
		}
		if got.RiskScore < 0 || got.RiskScore > 1 {
			t.Fatalf("score %v out of [0,1] at %dm", got.RiskScore, minute)
		}
		prev = got.RiskScore
	}
}

func TestRiskScorerInvalidWindow(t *testing.T) {
	scorer := NewRiskScorer()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, deadline := range []time.Time{created, created.Add(-time.Hour)} {
		ticket := models.TicketSnapshot{ID: uuid.New(), CreatedAt: created, SLADeadline: deadline}
		_, err := scorer.Score(ticket, created.Add(time.Minute))
		if err == nil {
			t.Fatalf("Score() with deadline %v: expected error", deadline)
		}
		if !apperrors.IsValidation(err) {
			t.Errorf("Score() error = %v, want validation error", err)
		}
	}
}
