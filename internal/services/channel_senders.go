package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

// RecipientDirectory maps recipient ids to channel addresses (Slack user
// id, email address). The help-desk user store owns this data; the
// monitor only reads it.
type RecipientDirectory interface {
	SlackUserID(ctx context.Context, recipientID uuid.UUID) (string, error)
	EmailAddress(ctx context.Context, recipientID uuid.UUID) (string, error)
}

// SlackSender delivers via the Slack Web API as a direct message to the
// recipient's Slack user.
type SlackSender struct {
	client    *slack.Client
	directory RecipientDirectory
}

func NewSlackSender(botToken string, directory RecipientDirectory) *SlackSender {
	return &SlackSender{client: slack.New(botToken), directory: directory}
}

func (s *SlackSender) Channel() models.Channel {
	return models.ChannelSlack
}

func (s *SlackSender) Send(ctx context.Context, msg Message) error {
	userID, err := s.directory.SlackUserID(ctx, msg.RecipientID)
	if err != nil {
		return apperrors.NewFatalDelivery(string(models.ChannelSlack), err)
	}
	_, _, err = s.client.PostMessageContext(ctx, userID,
		slack.MsgOptionText(fmt.Sprintf("*%s*\n%s", msg.Subject, msg.Body), false))
	if err != nil {
		return classifySlackError(err)
	}
	return nil
}

// classifySlackError sorts Slack API failures into the delivery taxonomy:
// auth problems are fatal, rate limits and transport faults retryable.
func classifySlackError(err error) error {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return apperrors.NewRetryableDelivery(string(models.ChannelSlack), err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid_auth"),
		strings.Contains(msg, "token_revoked"),
		strings.Contains(msg, "account_inactive"),
		strings.Contains(msg, "channel_not_found"),
		strings.Contains(msg, "user_not_found"):
		return apperrors.NewFatalDelivery(string(models.ChannelSlack), err)
	default:
		return apperrors.NewRetryableDelivery(string(models.ChannelSlack), err)
	}
}

// TeamsSender posts a MessageCard to a Teams incoming webhook.
type TeamsSender struct {
	webhookURL string
	httpClient *http.Client
}

func NewTeamsSender(webhookURL string) *TeamsSender {
	return &TeamsSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TeamsSender) Channel() models.Channel {
	return models.ChannelTeams
}

func (s *TeamsSender) Send(ctx context.Context, msg Message) error {
	if s.webhookURL == "" {
		return apperrors.NewFatalDelivery(string(models.ChannelTeams),
			fmt.Errorf("teams webhook_url not configured"))
	}

	payload := map[string]interface{}{
		"@type":    "MessageCard",
		"@context": "https://schema.org/extensions",
		"summary":  msg.Subject,
		"title":    msg.Subject,
		"text":     msg.Body,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewFatalDelivery(string(models.ChannelTeams), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return apperrors.NewRetryableDelivery(string(models.ChannelTeams), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.NewRetryableDelivery(string(models.ChannelTeams),
			fmt.Errorf("teams webhook failed (HTTP %d): %s", resp.StatusCode, string(respBody)))
	default:
		// 4xx other than rate limiting means the webhook is gone or the
		// payload is rejected permanently.
		return apperrors.NewFatalDelivery(string(models.ChannelTeams),
			fmt.Errorf("teams webhook rejected (HTTP %d): %s", resp.StatusCode, string(respBody)))
	}
}

// SMTPConfig configures the email sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers via SMTP. Email is the guaranteed fallback
// channel, so its failures stay retryable except for missing addresses.
type EmailSender struct {
	cfg       SMTPConfig
	directory RecipientDirectory
	mu        sync.Mutex
	sendMail  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(cfg SMTPConfig, directory RecipientDirectory) *EmailSender {
	return &EmailSender{cfg: cfg, directory: directory, sendMail: smtp.SendMail}
}

func (s *EmailSender) Channel() models.Channel {
	return models.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	to, err := s.directory.EmailAddress(ctx, msg.RecipientID)
	if err != nil {
		return apperrors.NewFatalDelivery(string(models.ChannelEmail), err)
	}
	if to == "" {
		return apperrors.NewFatalDelivery(string(models.ChannelEmail),
			fmt.Errorf("recipient %s has no email address", msg.RecipientID))
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	raw := buildMIMEMessage(s.cfg.From, to, msg.Subject, msg.Body)

	s.mu.Lock()
	err = s.sendMail(addr, auth, s.cfg.From, []string{to}, raw)
	s.mu.Unlock()
	if err != nil {
		if strings.Contains(err.Error(), "535") || strings.Contains(err.Error(), "authentication") {
			return apperrors.NewFatalDelivery(string(models.ChannelEmail), err)
		}
		return apperrors.NewRetryableDelivery(string(models.ChannelEmail), err)
	}
	return nil
}

func buildMIMEMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
