package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

type scriptedSender struct {
	channel models.Channel
	errs    []error // consumed per call, nil past the end
	calls   int
	lastMsg Message
}

func (s *scriptedSender) Channel() models.Channel { return s.channel }

func (s *scriptedSender) Send(ctx context.Context, msg Message) error {
	s.calls++
	s.lastMsg = msg
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

type memoryRecordStore struct {
	records []models.NotificationRecord
}

func (m *memoryRecordStore) Create(ctx context.Context, record *models.NotificationRecord) error {
	m.records = append(m.records, *record)
	return nil
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func testAlert() models.SLAAlert {
	return models.SLAAlert{
		ID:                   uuid.New(),
		TicketID:             uuid.New(),
		Type:                 models.AlertTypeRiskCritical,
		Severity:             models.SeverityCritical,
		RiskScore:            0.92,
		TimeRemainingSeconds: 600,
		Message:              "ticket approaching deadline",
		CreatedAt:            time.Now(),
	}
}

func retryable(ch models.Channel) error {
	return apperrors.NewRetryableDelivery(string(ch), errors.New("transient"))
}

func TestDeliverFirstChannelSucceeds(t *testing.T) {
	slack := &scriptedSender{channel: models.ChannelSlack}
	teams := &scriptedSender{channel: models.ChannelTeams}
	store := &memoryRecordStore{}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack, teams}, store, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack, models.ChannelTeams})

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Status != models.DeliveryDelivered {
		t.Errorf("status = %s, want delivered", records[0].Status)
	}
	if records[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", records[0].Attempts)
	}
	if teams.calls != 0 {
		t.Error("second channel attempted after first succeeded")
	}
	if len(store.records) != 1 {
		t.Errorf("persisted %d records, want 1", len(store.records))
	}
}

func TestDeliverRetriesTransientThenSucceeds(t *testing.T) {
	slack := &scriptedSender{
		channel: models.ChannelSlack,
		errs:    []error{retryable(models.ChannelSlack), retryable(models.ChannelSlack)},
	}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack}, &memoryRecordStore{}, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack})

	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Status != models.DeliveryDelivered {
		t.Errorf("status = %s, want delivered", records[0].Status)
	}
	if records[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", records[0].Attempts)
	}
}

func TestDeliverExhaustsThenFallsBackToEmail(t *testing.T) {
	failAlways := []error{
		retryable(models.ChannelSlack), retryable(models.ChannelSlack),
		retryable(models.ChannelSlack), retryable(models.ChannelSlack),
	}
	slack := &scriptedSender{channel: models.ChannelSlack, errs: failAlways}
	email := &scriptedSender{channel: models.ChannelEmail}
	store := &memoryRecordStore{}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack, email}, store, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack})

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Channel != models.ChannelSlack || records[0].Status != models.DeliveryFailed {
		t.Errorf("first record = %s/%s, want slack/failed", records[0].Channel, records[0].Status)
	}
	if records[0].Attempts != 4 {
		t.Errorf("failed channel attempts = %d, want 4 (1 + 3 retries)", records[0].Attempts)
	}
	if records[0].Error == "" {
		t.Error("failed record missing error detail")
	}
	if records[1].Channel != models.ChannelEmail || !records[1].IsFallback {
		t.Errorf("second record = %s (fallback=%v), want email fallback", records[1].Channel, records[1].IsFallback)
	}
	if records[1].Status != models.DeliveryDelivered {
		t.Errorf("fallback status = %s, want delivered", records[1].Status)
	}
}

func TestDeliverFatalErrorSkipsRetries(t *testing.T) {
	slack := &scriptedSender{
		channel: models.ChannelSlack,
		errs: []error{
			apperrors.NewFatalDelivery("slack", errors.New("invalid_auth")),
			apperrors.NewFatalDelivery("slack", errors.New("invalid_auth")),
		},
	}
	email := &scriptedSender{channel: models.ChannelEmail}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack, email}, &memoryRecordStore{}, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack})

	if slack.calls != 1 {
		t.Errorf("slack called %d times, want 1 (fatal error must not retry)", slack.calls)
	}
	if len(records) != 2 || records[1].Channel != models.ChannelEmail {
		t.Fatalf("expected fallback to email, got %+v", records)
	}
}

func TestDeliverNoDoubleEmailAttempt(t *testing.T) {
	emailErrs := []error{
		retryable(models.ChannelEmail), retryable(models.ChannelEmail),
		retryable(models.ChannelEmail), retryable(models.ChannelEmail),
	}
	email := &scriptedSender{channel: models.ChannelEmail, errs: emailErrs}
	pipeline := NewDeliveryPipeline([]ChannelSender{email}, &memoryRecordStore{}, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelEmail})

	// Email already failed as a preferred channel; the fallback pass
	// must not retry the same channel.
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].IsFallback {
		t.Error("preferred email attempt flagged as fallback")
	}
}

func TestDeliverTotalFailureLeavesCompleteTrail(t *testing.T) {
	fail := func(ch models.Channel) []error {
		return []error{retryable(ch), retryable(ch), retryable(ch), retryable(ch)}
	}
	slack := &scriptedSender{channel: models.ChannelSlack, errs: fail(models.ChannelSlack)}
	teams := &scriptedSender{channel: models.ChannelTeams, errs: fail(models.ChannelTeams)}
	email := &scriptedSender{channel: models.ChannelEmail, errs: fail(models.ChannelEmail)}
	store := &memoryRecordStore{}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack, teams, email}, store, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack, models.ChannelTeams})

	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 (slack, teams, email fallback)", len(records))
	}
	for _, record := range records {
		if record.Status != models.DeliveryFailed {
			t.Errorf("record %s status = %s, want failed", record.Channel, record.Status)
		}
	}
	if !records[2].IsFallback {
		t.Error("final email record should be the fallback attempt")
	}
	if len(store.records) != 3 {
		t.Errorf("persisted %d records, want 3", len(store.records))
	}
}

func TestDeliverMissingSenderRecordsFailure(t *testing.T) {
	email := &scriptedSender{channel: models.ChannelEmail}
	pipeline := NewDeliveryPipeline([]ChannelSender{email}, &memoryRecordStore{}, nil, testRetryPolicy(), nil)

	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack})

	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Status != models.DeliveryFailed || records[0].Error == "" {
		t.Errorf("unconfigured channel record = %+v, want failed with error", records[0])
	}
	if records[1].Channel != models.ChannelEmail || records[1].Status != models.DeliveryDelivered {
		t.Errorf("fallback record = %s/%s, want email/delivered", records[1].Channel, records[1].Status)
	}
}

func TestDeliverEmptyChannelListSkipsFallback(t *testing.T) {
	email := &scriptedSender{channel: models.ChannelEmail}
	store := &memoryRecordStore{}
	pipeline := NewDeliveryPipeline([]ChannelSender{email}, store, nil, testRetryPolicy(), nil)

	// An empty resolution means the recipient opted this priority out.
	// The email fallback rescues failed attempts only, it must not turn
	// an opt-out into a delivery.
	records := pipeline.Deliver(context.Background(), testAlert(), models.PriorityLow, uuid.New(), nil)

	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
	if email.calls != 0 {
		t.Errorf("email sender called %d times, want 0", email.calls)
	}
	if len(store.records) != 0 {
		t.Errorf("persisted %d records, want 0", len(store.records))
	}
}

type singleTemplateStore struct {
	tmpl models.NotificationTemplate
}

func (s *singleTemplateStore) FindBestMatch(ctx context.Context, channel models.Channel,
	priority models.Priority, alertType models.AlertType) (*models.NotificationTemplate, error) {
	tmpl := s.tmpl
	return &tmpl, nil
}

func TestDeliverRendersSeededTemplate(t *testing.T) {
	slack := &scriptedSender{channel: models.ChannelSlack}
	templates := &singleTemplateStore{tmpl: models.NotificationTemplate{
		Name:    "slack-default",
		Channel: models.ChannelSlack,
		Subject: "SLA alert for ticket {{ticket_id}}",
		Body:    ":warning: *{{type}}* for ticket `{{ticket_id}}`\nRisk score: {{risk_score}}\nTime remaining: {{time_remaining}}\n{{message}}",
		Status:  1,
	}}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack}, &memoryRecordStore{}, templates, testRetryPolicy(), nil)

	alert := testAlert()
	pipeline.Deliver(context.Background(), alert, models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack})

	if slack.calls != 1 {
		t.Fatalf("slack called %d times, want 1", slack.calls)
	}
	wantSubject := "SLA alert for ticket " + alert.TicketID.String()
	if slack.lastMsg.Subject != wantSubject {
		t.Errorf("subject = %q, want %q", slack.lastMsg.Subject, wantSubject)
	}
	if strings.Contains(slack.lastMsg.Body, "{{") {
		t.Errorf("body has unsubstituted placeholders: %q", slack.lastMsg.Body)
	}
	for _, want := range []string{alert.TicketID.String(), string(alert.Type), "0.92", alert.Message} {
		if !strings.Contains(slack.lastMsg.Body, want) {
			t.Errorf("body missing %q: %q", want, slack.lastMsg.Body)
		}
	}
}

func TestDeliverEmptySubjectUsesDefault(t *testing.T) {
	slack := &scriptedSender{channel: models.ChannelSlack}
	templates := &singleTemplateStore{tmpl: models.NotificationTemplate{
		Name:    "slack-bare",
		Channel: models.ChannelSlack,
		Body:    "{{message}}",
		Status:  1,
	}}
	pipeline := NewDeliveryPipeline([]ChannelSender{slack}, &memoryRecordStore{}, templates, testRetryPolicy(), nil)

	alert := testAlert()
	pipeline.Deliver(context.Background(), alert, models.PriorityHigh, uuid.New(),
		[]models.Channel{models.ChannelSlack})

	if !strings.Contains(slack.lastMsg.Subject, alert.TicketID.String()) {
		t.Errorf("default subject missing ticket id: %q", slack.lastMsg.Subject)
	}
	if slack.lastMsg.Body != alert.Message {
		t.Errorf("body = %q, want %q", slack.lastMsg.Body, alert.Message)
	}
}

func TestRenderTemplate(t *testing.T) {
	body := "Ticket {{ticket_id}} at {{risk_score}} risk ({{severity}})"
	got := RenderTemplate(body, map[string]interface{}{
		"ticket_id":  "abc",
		"risk_score": "0.81",
		"severity":   "critical",
	})
	want := "Ticket abc at 0.81 risk (critical)"
	if got != want {
		t.Errorf("RenderTemplate() = %q, want %q", got, want)
	}
}
