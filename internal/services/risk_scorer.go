package services

import (
	"time"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

// RiskScorer turns a ticket snapshot into a normalized [0,1] risk score.
// Pure and deterministic: no I/O and no clock reads, the caller supplies now.
type RiskScorer struct{}

func NewRiskScorer() *RiskScorer {
	return &RiskScorer{}
}

// Score computes the risk assessment for a ticket at the given instant.
// A passed deadline pins the score at 1.0. Otherwise the score is the
// square of window progress, clamped to [0,1] so clock skew or a
// retroactive deadline edit cannot push it out of range. The square keeps
// risk low through the first half of the window and ramps it sharply as
// the deadline nears.
func (s *RiskScorer) Score(ticket models.TicketSnapshot, now time.Time) (models.RiskAssessment, error) {
	if !ticket.CreatedAt.Before(ticket.SLADeadline) {
		return models.RiskAssessment{}, apperrors.NewValidationError("sla_deadline",
			"ticket created_at must precede sla_deadline")
	}

	remaining := ticket.SLADeadline.Sub(now)
	assessment := models.RiskAssessment{
		TicketID:             ticket.ID,
		TimeRemainingSeconds: int64(remaining.Seconds()),
		ComputedAt:           now,
	}

	if remaining <= 0 {
		assessment.RiskScore = 1.0
		return assessment, nil
	}

	totalWindow := ticket.SLADeadline.Sub(ticket.CreatedAt)
	elapsed := totalWindow - remaining
	progress := float64(elapsed) / float64(totalWindow)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	score := progress * progress
	if score > 1.0 {
		score = 1.0
	}
	assessment.RiskScore = score
	return assessment, nil
}
