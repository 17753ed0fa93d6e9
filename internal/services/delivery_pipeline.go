package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

// Message is the rendered payload handed to a channel sender.
type Message struct {
	RecipientID uuid.UUID
	Subject     string
	Body        string
}

// ChannelSender delivers one message to one channel. Senders classify
// failures through the DeliveryError taxonomy: retryable errors get the
// backoff loop, fatal ones skip straight to the next channel.
type ChannelSender interface {
	Channel() models.Channel
	Send(ctx context.Context, msg Message) error
}

// RecordStore persists one NotificationRecord per channel outcome.
// Implemented by repository.NotificationRecordRepository.
type RecordStore interface {
	Create(ctx context.Context, record *models.NotificationRecord) error
}

// TemplateStore finds the best-matching notification template for
// channel+priority+type; a NotFoundError means the builtin default body
// is used. Implemented by repository.NotificationTemplateRepository.
type TemplateStore interface {
	FindBestMatch(ctx context.Context, channel models.Channel, priority models.Priority,
		alertType models.AlertType) (*models.NotificationTemplate, error)
}

// RetryPolicy bounds the per-channel retry loop.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries transient failures up to 3 times with
// exponential backoff: 500ms, 1s, 2s, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
	}
}

// attemptOutcome is one step of the per-alert delivery state machine:
// Attempting(channel) -> Succeeded | FallingBack -> Exhausted.
type attemptOutcome struct {
	record    models.NotificationRecord
	delivered bool
}

// DeliveryPipeline walks a recipient's ordered channel list, retrying
// transient failures with backoff and falling back to the guaranteed
// email channel when every preferred channel is exhausted. Every channel
// outcome is recorded before the next channel is attempted, so the
// record trail is a complete audit log even on total failure.
type DeliveryPipeline struct {
	senders   map[models.Channel]ChannelSender
	records   RecordStore
	templates TemplateStore
	retry     RetryPolicy
	clock     Clock
}

func NewDeliveryPipeline(senders []ChannelSender, records RecordStore,
	templates TemplateStore, retry RetryPolicy, clock Clock) *DeliveryPipeline {
	byChannel := make(map[models.Channel]ChannelSender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &DeliveryPipeline{
		senders:   byChannel,
		records:   records,
		templates: templates,
		retry:     retry,
		clock:     clock,
	}
}

// Deliver attempts the channels in order until one succeeds, then falls
// back to email if none did. An alert is never silently dropped: the
// worst case is every record in the returned slice carrying
// status=failed.
func (p *DeliveryPipeline) Deliver(ctx context.Context, alert models.SLAAlert,
	priority models.Priority, recipientID uuid.UUID, channels []models.Channel) []models.NotificationRecord {

	// An empty channel list means the recipient filtered this alert out
	// (priority opt-out). The fallback rescues failed attempts, it does
	// not override preference filtering.
	if len(channels) == 0 {
		return nil
	}

	var outcomes []models.NotificationRecord
	delivered := false
	fallbackTried := false

	for _, channel := range channels {
		if channel == models.FallbackChannel {
			fallbackTried = true
		}
		outcome := p.attemptChannel(ctx, alert, priority, recipientID, channel, false)
		outcomes = append(outcomes, outcome.record)
		if outcome.delivered {
			delivered = true
			break
		}
	}

	// FallingBack: all preferred channels exhausted. The guaranteed
	// channel ignores preference filtering; quiet-hour suppression was
	// already applied upstream by returning an empty resolution.
	if !delivered && !fallbackTried {
		outcome := p.attemptChannel(ctx, alert, priority, recipientID, models.FallbackChannel, true)
		outcomes = append(outcomes, outcome.record)
	}

	return outcomes
}

// attemptChannel runs the bounded retry loop for a single channel and
// durably records the final outcome.
func (p *DeliveryPipeline) attemptChannel(ctx context.Context, alert models.SLAAlert,
	priority models.Priority, recipientID uuid.UUID, channel models.Channel,
	isFallback bool) attemptOutcome {

	record := models.NotificationRecord{
		ID:          uuid.New(),
		TicketID:    alert.TicketID,
		AlertID:     alert.ID,
		RecipientID: recipientID,
		Channel:     channel,
		Type:        alert.Type,
		Status:      models.DeliveryPending,
		IsFallback:  isFallback,
		CreatedAt:   p.clock.Now(),
	}

	sender, ok := p.senders[channel]
	if !ok {
		record.Status = models.DeliveryFailed
		record.Error = fmt.Sprintf("no sender configured for channel %s", channel)
		p.persistRecord(ctx, &record)
		return attemptOutcome{record: record}
	}

	subject, body := p.renderMessage(ctx, alert, priority, channel)
	msg := Message{
		RecipientID: recipientID,
		Subject:     subject,
		Body:        body,
	}

	attempts, err := p.sendWithRetry(ctx, sender, msg)
	record.Attempts = attempts
	if err != nil {
		record.Status = models.DeliveryFailed
		record.Error = err.Error()
		p.persistRecord(ctx, &record)
		return attemptOutcome{record: record}
	}

	now := p.clock.Now()
	record.Status = models.DeliveryDelivered
	record.DeliveredAt = &now
	p.persistRecord(ctx, &record)
	return attemptOutcome{record: record, delivered: true}
}

// sendWithRetry retries transient failures with exponential backoff.
// Fatal delivery errors and context cancellation end the loop early.
// Returns the attempt count alongside the final error.
func (p *DeliveryPipeline) sendWithRetry(ctx context.Context, sender ChannelSender, msg Message) (int, error) {
	backoff := p.retry.BaseBackoff
	attempt := 0
	for {
		attempt++
		err := sender.Send(ctx, msg)
		if err == nil {
			return attempt, nil
		}
		if !apperrors.IsRetryableDelivery(err) {
			return attempt, err
		}
		if attempt > p.retry.MaxRetries {
			return attempt, fmt.Errorf("channel %s failed after %d attempts: %w", sender.Channel(), attempt, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > p.retry.MaxBackoff {
			backoff = p.retry.MaxBackoff
		}
	}
}

// renderMessage selects the best template and substitutes placeholders
// in its subject and body. Placeholder names match the seeded template
// columns: ticket_id, type, severity, priority, risk_score,
// time_remaining, message, created_at.
func (p *DeliveryPipeline) renderMessage(ctx context.Context, alert models.SLAAlert,
	priority models.Priority, channel models.Channel) (string, string) {

	data := map[string]interface{}{
		"ticket_id":      alert.TicketID.String(),
		"type":           string(alert.Type),
		"severity":       string(alert.Severity),
		"priority":       string(priority),
		"risk_score":     fmt.Sprintf("%.2f", alert.RiskScore),
		"time_remaining": formatRemaining(alert.TimeRemainingSeconds),
		"message":        alert.Message,
		"created_at":     alert.CreatedAt.Format("2006-01-02 15:04:05"),
	}

	if p.templates != nil {
		if tmpl, err := p.templates.FindBestMatch(ctx, channel, priority, alert.Type); err == nil {
			subject := defaultSubject(alert)
			if tmpl.Subject != "" {
				subject = RenderTemplate(tmpl.Subject, data)
			}
			return subject, RenderTemplate(tmpl.Body, data)
		} else if !apperrors.IsNotFound(err) {
			log.Printf("DeliveryPipeline: template lookup for %s/%s/%s: %v", channel, priority, alert.Type, err)
		}
	}
	return defaultSubject(alert), RenderTemplate(defaultTemplateBody, data)
}

func defaultSubject(alert models.SLAAlert) string {
	return fmt.Sprintf("[SLA %s] ticket %s", alert.Severity, alert.TicketID)
}

const defaultTemplateBody = "SLA {{severity}} alert for ticket {{ticket_id}} " +
	"({{priority}} priority): {{message}} | risk {{risk_score}}, {{time_remaining}} remaining"

// RenderTemplate substitutes {{key}} placeholders in body.
func RenderTemplate(body string, data map[string]interface{}) string {
	content := body
	for key, value := range data {
		placeholder := "{{" + key + "}}"
		content = strings.ReplaceAll(content, placeholder, fmt.Sprintf("%v", value))
	}
	return content
}

func formatRemaining(seconds int64) string {
	if seconds <= 0 {
		return fmt.Sprintf("breached %s ago", (time.Duration(-seconds) * time.Second).String())
	}
	return (time.Duration(seconds) * time.Second).String()
}

func (p *DeliveryPipeline) persistRecord(ctx context.Context, record *models.NotificationRecord) {
	if p.records == nil {
		return
	}
	if err := p.records.Create(ctx, record); err != nil {
		log.Printf("DeliveryPipeline: persist record %s (%s/%s): %v",
			record.ID, record.Channel, record.Status, err)
	}
}
