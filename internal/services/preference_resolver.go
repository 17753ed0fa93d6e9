package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
	"sla-monitor/pkg/validator"
)

// PreferenceStore reads recipient notification preferences. Implemented by
// repository.PreferenceRepository; returns NotFoundError when the
// recipient has no preference row.
type PreferenceStore interface {
	GetByRecipient(ctx context.Context, recipientID uuid.UUID) (*models.NotificationPreference, error)
}

// defaultChannelsByType is the system-wide fallback used when a recipient
// has no preference row: risk warnings stay on chat, critical and breach
// conditions fan out everywhere, escalations skip the conferencing tool.
var defaultChannelsByType = map[models.AlertType][]models.Channel{
	models.AlertTypeRiskWarning:  {models.ChannelSlack},
	models.AlertTypeRiskCritical: {models.ChannelSlack, models.ChannelTeams, models.ChannelEmail},
	models.AlertTypeBreach:       {models.ChannelSlack, models.ChannelTeams, models.ChannelEmail},
	models.AlertTypeEscalation:   {models.ChannelSlack, models.ChannelEmail},
}

// DefaultPreference is what a recipient without a stored row effectively
// has: every channel and priority enabled, quiet hours off. Per-type
// channel defaults still narrow the fan-out at resolve time.
func DefaultPreference(recipientID uuid.UUID) models.NotificationPreference {
	return models.NotificationPreference{
		RecipientID: recipientID,
		Channels: map[models.Channel]bool{
			models.ChannelSlack: true,
			models.ChannelTeams: true,
			models.ChannelEmail: true,
		},
		Priorities: map[models.Priority]bool{
			models.PriorityLow:      true,
			models.PriorityMedium:   true,
			models.PriorityHigh:     true,
			models.PriorityCritical: true,
		},
		QuietHours: models.QuietHours{Enabled: false},
	}
}

// Resolution is the outcome of a channel lookup. Suppressed distinguishes
// quiet-hours suppression (no delivery at all, not even fallback) from an
// empty preferred list that still gets the guaranteed fallback.
type Resolution struct {
	Channels   []models.Channel
	Suppressed bool
}

// PreferenceResolver decides which channels a notification may use for a
// given recipient, honoring channel toggles, priority filters, and quiet
// hours.
type PreferenceResolver struct {
	prefs PreferenceStore
}

func NewPreferenceResolver(prefs PreferenceStore) *PreferenceResolver {
	return &PreferenceResolver{prefs: prefs}
}

// Resolve returns the ordered channel list for one recipient. The order is
// fixed (slack, teams, email) so the delivery pipeline walks channels
// deterministically. Quiet hours suppress everything below breach
// severity; breach alerts always pass.
func (r *PreferenceResolver) Resolve(ctx context.Context, recipientID uuid.UUID,
	alertType models.AlertType, priority models.Priority, severity models.Severity,
	now time.Time) (Resolution, error) {

	pref, err := r.prefs.GetByRecipient(ctx, recipientID)
	if err != nil && !apperrors.IsNotFound(err) {
		return Resolution{}, err
	}

	defaults := defaultChannelsByType[alertType]

	if pref == nil {
		// No preference row: default table only, no quiet hours.
		return Resolution{Channels: orderChannels(defaults)}, nil
	}

	if pref.QuietHours.Enabled && severity != models.SeverityBreach &&
		inQuietWindow(pref.QuietHours, now) {
		return Resolution{Suppressed: true}, nil
	}

	if enabled, ok := pref.Priorities[priority]; ok && !enabled {
		return Resolution{}, nil
	}

	allowed := make(map[models.Channel]bool, len(defaults))
	for _, ch := range defaults {
		allowed[ch] = true
	}
	var channels []models.Channel
	for _, ch := range models.ChannelOrder {
		if pref.Channels[ch] && allowed[ch] {
			channels = append(channels, ch)
		}
	}
	return Resolution{Channels: channels}, nil
}

// orderChannels sorts channels into the fixed fan-out order.
func orderChannels(channels []models.Channel) []models.Channel {
	present := make(map[models.Channel]bool, len(channels))
	for _, ch := range channels {
		present[ch] = true
	}
	var ordered []models.Channel
	for _, ch := range models.ChannelOrder {
		if present[ch] {
			ordered = append(ordered, ch)
		}
	}
	return ordered
}

// inQuietWindow reports whether t falls in the [start, end) window.
// A window with start > end spans midnight, e.g. 22:00-08:00.
func inQuietWindow(qh models.QuietHours, t time.Time) bool {
	nowMinutes := t.Hour()*60 + t.Minute()
	startMinutes := parseHHMM(qh.Start)
	endMinutes := parseHHMM(qh.End)
	if startMinutes == endMinutes {
		return false
	}
	if startMinutes < endMinutes {
		return nowMinutes >= startMinutes && nowMinutes < endMinutes
	}
	return nowMinutes >= startMinutes || nowMinutes < endMinutes
}

func parseHHMM(s string) int {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h*60 + m
}

// ValidateQuietHours checks HH:MM formatting on a preference update.
func ValidateQuietHours(qh models.QuietHours) error {
	if !qh.Enabled {
		return nil
	}
	for field, v := range map[string]string{"quiet_hours.start": qh.Start, "quiet_hours.end": qh.End} {
		if !validHHMM(v) {
			return apperrors.NewValidationError(field, "must be HH:MM")
		}
	}
	return nil
}

func validHHMM(s string) bool {
	return validator.Var(s, "required,datetime=15:04") == nil
}
