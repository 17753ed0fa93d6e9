package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPTicketEscalator requests escalation level changes from the ticket
// subsystem over its REST API.
type HTTPTicketEscalator struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTicketEscalator(baseURL string) *HTTPTicketEscalator {
	return &HTTPTicketEscalator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestEscalation POSTs the desired level to the ticket service. The
// ticket service owns the final decision; a 2xx means the request was
// accepted, not that the level changed.
func (e *HTTPTicketEscalator) RequestEscalation(ctx context.Context, ticketID uuid.UUID, level int, reason string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"level":  level,
		"reason": reason,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v1/tickets/%s/escalate", e.baseURL, ticketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("escalation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("escalation request returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
