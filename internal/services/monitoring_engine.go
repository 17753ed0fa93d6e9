package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"sla-monitor/internal/models"
	apperrors "sla-monitor/pkg/errors"
)

// AlertHistory is the append-only alert store the engine dedups against.
// Implemented by repository.AlertHistoryRepository.
type AlertHistory interface {
	Append(ctx context.Context, alert *models.SLAAlert) error
	LatestUnacknowledged(ctx context.Context, ticketID uuid.UUID, severity models.Severity) (*models.SLAAlert, error)
}

// TicketSource supplies read-only ticket snapshots from the ticket
// subsystem. Implemented by repository.TicketRepository.
type TicketSource interface {
	ListOpen(ctx context.Context) ([]models.TicketSnapshot, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.TicketSnapshot, error)
}

// TicketEscalator asks the ticket subsystem to bump a ticket's escalation
// level. The engine requests the change and never writes the ticket
// itself.
type TicketEscalator interface {
	RequestEscalation(ctx context.Context, ticketID uuid.UUID, level int, reason string) error
}

// Deliverer decouples the engine from the concrete delivery pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, alert models.SLAAlert, priority models.Priority,
		recipientID uuid.UUID, channels []models.Channel) []models.NotificationRecord
}

// ChannelResolver decouples the engine from the concrete preference
// resolver.
type ChannelResolver interface {
	Resolve(ctx context.Context, recipientID uuid.UUID, alertType models.AlertType,
		priority models.Priority, severity models.Severity, now time.Time) (Resolution, error)
}

// monitorState is the per-ticket alerting state machine:
// unmonitored -> at-risk -> escalated(level) -> breached (terminal).
// Risk-tier dedup lives in the alert history (cooldown against the
// latest unacknowledged alert), not here.
type monitorState struct {
	escalationLevel int
	breached        bool
	lastPublished   float64
	published       bool
}

// CycleResult summarizes one monitoring cycle for operator visibility.
type CycleResult struct {
	Scanned   int               `json:"scanned"`
	Failed    int               `json:"failed"`
	Alerts    []models.SLAAlert `json:"alerts"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
}

// riskPublishDelta is the minimum score movement before another
// sla:risk:update is pushed for the same ticket.
const riskPublishDelta = 0.05

// MonitoringEngine drives the scan/score/alert loop. Scheduled ticks,
// event-triggered single-ticket scans, and manual cycles all funnel
// through the same scoring+dedup+emit path.
type MonitoringEngine struct {
	scorer      *RiskScorer
	config      *ConfigStore
	history     AlertHistory
	tickets     TicketSource
	escalator   TicketEscalator
	resolver    ChannelResolver
	pipeline    Deliverer
	broadcaster Broadcaster
	clock       Clock

	stateMu sync.Mutex
	state   map[uuid.UUID]*monitorState

	// ticketMu serializes the dedup check+append per ticket so a
	// scheduled and a triggered scan racing on the same ticket emit at
	// most one alert per severity.
	lockMu      sync.Mutex
	ticketLocks map[uuid.UUID]*sync.Mutex

	deliveryWG sync.WaitGroup
}

func NewMonitoringEngine(
	scorer *RiskScorer,
	config *ConfigStore,
	history AlertHistory,
	tickets TicketSource,
	escalator TicketEscalator,
	resolver ChannelResolver,
	pipeline Deliverer,
	broadcaster Broadcaster,
	clock Clock,
) *MonitoringEngine {
	if clock == nil {
		clock = RealClock{}
	}
	return &MonitoringEngine{
		scorer:      scorer,
		config:      config,
		history:     history,
		tickets:     tickets,
		escalator:   escalator,
		resolver:    resolver,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		clock:       clock,
		state:       make(map[uuid.UUID]*monitorState),
		ticketLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// Start runs the scheduled scan loop until ctx is cancelled. The interval
// is re-read from the config snapshot after every tick so updates apply
// without a restart. In-flight deliveries are waited for on shutdown to
// keep the audit trail complete.
func (e *MonitoringEngine) Start(ctx context.Context) error {
	for {
		interval := e.config.Get().ScanInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.deliveryWG.Wait()
			return nil
		case <-timer.C:
		}
		cfg := e.config.Get()
		if !cfg.Enabled {
			continue
		}
		result, err := e.runCycle(ctx, cfg)
		if err != nil {
			log.Printf("MonitoringEngine: scheduled cycle: %v", err)
			continue
		}
		if result.Failed > 0 {
			log.Printf("MonitoringEngine: cycle scanned %d tickets, %d failed, %d alerts in %v",
				result.Scanned, result.Failed, len(result.Alerts), result.Duration)
		}
	}
}

// RunCycle runs one full scan on demand (the manual trigger). Rejected
// with a ConfigError while alerting is disabled.
func (e *MonitoringEngine) RunCycle(ctx context.Context) (*CycleResult, error) {
	cfg := e.config.Get()
	if !cfg.Enabled {
		return nil, apperrors.NewConfigError("sla alerting is disabled")
	}
	return e.runCycle(ctx, cfg)
}

// CheckTicket scans a single ticket right after a mutation event (create,
// priority change, assignment) so urgent conditions are caught without
// waiting for the next tick.
func (e *MonitoringEngine) CheckTicket(ctx context.Context, ticketID uuid.UUID) ([]models.SLAAlert, error) {
	cfg := e.config.Get()
	if !cfg.Enabled {
		return nil, apperrors.NewConfigError("sla alerting is disabled")
	}
	ticket, err := e.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.Open() {
		return nil, nil
	}
	return e.scanTicket(ctx, cfg, *ticket)
}

func (e *MonitoringEngine) runCycle(ctx context.Context, cfg models.SLAAlertingConfig) (*CycleResult, error) {
	started := e.clock.Now()
	tickets, err := e.tickets.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	result := &CycleResult{StartedAt: started}
	for _, ticket := range tickets {
		if e.isBreached(ticket.ID) {
			continue
		}
		result.Scanned++
		alerts, err := e.scanTicketIsolated(ctx, cfg, ticket)
		if err != nil {
			result.Failed++
			log.Printf("MonitoringEngine: scan ticket %s: %v", ticket.ID, err)
			continue
		}
		result.Alerts = append(result.Alerts, alerts...)
	}
	result.Duration = e.clock.Now().Sub(started)
	return result, nil
}

// scanTicketIsolated wraps scanTicket with a panic guard so one broken
// snapshot cannot abort the rest of the cycle.
func (e *MonitoringEngine) scanTicketIsolated(ctx context.Context, cfg models.SLAAlertingConfig,
	ticket models.TicketSnapshot) (alerts []models.SLAAlert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic scanning ticket %s: %v", ticket.ID, r)
		}
	}()
	return e.scanTicket(ctx, cfg, ticket)
}

// scanTicket is the shared scoring+dedup+emit path for every trigger
// source.
func (e *MonitoringEngine) scanTicket(ctx context.Context, cfg models.SLAAlertingConfig,
	ticket models.TicketSnapshot) ([]models.SLAAlert, error) {

	now := e.clock.Now()
	assessment, err := e.scorer.Score(ticket, now)
	if err != nil {
		return nil, err
	}

	e.publishRiskUpdate(ticket.ID, assessment)

	lock := e.ticketLock(ticket.ID)
	lock.Lock()
	defer lock.Unlock()

	var emitted []models.SLAAlert

	if assessment.Breached() {
		if e.isBreached(ticket.ID) {
			return nil, nil
		}
		// Breach alerts bypass cooldown dedup entirely.
		alert, err := e.emitAlert(ctx, ticket, assessment, models.AlertTypeBreach,
			fmt.Sprintf("SLA breached for ticket %s: deadline passed %s ago",
				ticket.ID, (time.Duration(-assessment.TimeRemainingSeconds)*time.Second).String()))
		if err != nil {
			return nil, err
		}
		e.markBreached(ticket.ID)
		return []models.SLAAlert{*alert}, nil
	}

	if level := e.escalationLevelFor(cfg, assessment.RiskScore); level > e.effectiveEscalationLevel(ticket) {
		if alert, err := e.emitEscalation(ctx, ticket, assessment, level); err != nil {
			log.Printf("MonitoringEngine: escalation for ticket %s: %v", ticket.ID, err)
		} else if alert != nil {
			emitted = append(emitted, *alert)
		}
	}

	alertType, ok := e.riskTierFor(cfg, assessment.RiskScore)
	if ok {
		severity := models.SeverityForType(alertType)
		dup, err := e.withinCooldown(ctx, ticket.ID, severity, cfg.Cooldown(), now)
		if err != nil {
			return emitted, err
		}
		if !dup {
			alert, err := e.emitAlert(ctx, ticket, assessment, alertType,
				fmt.Sprintf("Ticket %s at %.0f%% SLA risk, %s remaining",
					ticket.ID, assessment.RiskScore*100, formatRemaining(assessment.TimeRemainingSeconds)))
			if err != nil {
				return emitted, err
			}
			emitted = append(emitted, *alert)
		}
	}

	return emitted, nil
}

// riskTierFor maps a score onto the alert tier: critical at or above the
// critical threshold, warning between medium and critical.
func (e *MonitoringEngine) riskTierFor(cfg models.SLAAlertingConfig, score float64) (models.AlertType, bool) {
	switch {
	case score >= cfg.RiskThresholds.Critical:
		return models.AlertTypeRiskCritical, true
	case score >= cfg.RiskThresholds.Medium:
		return models.AlertTypeRiskWarning, true
	default:
		return "", false
	}
}

// effectiveEscalationLevel is the highest level already applied to the
// ticket or requested by this engine. The snapshot lags while the ticket
// subsystem processes a bump, and a failed escalator call is only
// logged, so the locally requested level also guards re-emission.
func (e *MonitoringEngine) effectiveEscalationLevel(ticket models.TicketSnapshot) int {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	level := ticket.EscalationLevel
	if st, ok := e.state[ticket.ID]; ok && st.escalationLevel > level {
		level = st.escalationLevel
	}
	return level
}

// escalationLevelFor returns the highest escalation level the score
// qualifies for, 0 when none.
func (e *MonitoringEngine) escalationLevelFor(cfg models.SLAAlertingConfig, score float64) int {
	et := cfg.EscalationThresholds
	switch {
	case score >= et.Level3:
		return 3
	case score >= et.Level2:
		return 2
	case score >= et.Level1:
		return 1
	default:
		return 0
	}
}

// withinCooldown reports whether an unacknowledged alert of this severity
// exists inside the cooldown window. Cooldown is per severity tier: a
// pending warning does not delay a critical.
func (e *MonitoringEngine) withinCooldown(ctx context.Context, ticketID uuid.UUID,
	severity models.Severity, cooldown time.Duration, now time.Time) (bool, error) {
	latest, err := e.history.LatestUnacknowledged(ctx, ticketID, severity)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	return now.Sub(latest.CreatedAt) < cooldown, nil
}

func (e *MonitoringEngine) emitEscalation(ctx context.Context, ticket models.TicketSnapshot,
	assessment models.RiskAssessment, level int) (*models.SLAAlert, error) {

	reason := fmt.Sprintf("risk score %.2f crossed escalation level %d threshold", assessment.RiskScore, level)
	alert, err := e.emitAlert(ctx, ticket, assessment, models.AlertTypeEscalation,
		fmt.Sprintf("Escalating ticket %s to level %d: %s", ticket.ID, level, reason))
	if err != nil {
		return nil, err
	}
	e.markEscalated(ticket.ID, level)

	// The escalation level bump is owned by the ticket subsystem; a
	// failed request is logged but the alert already stands.
	if e.escalator != nil {
		if err := e.escalator.RequestEscalation(ctx, ticket.ID, level, reason); err != nil {
			log.Printf("MonitoringEngine: request escalation %s -> level %d: %v", ticket.ID, level, err)
		}
	}
	return alert, nil
}

// emitAlert appends the alert, broadcasts it, and fans out delivery in
// the background so retries never stall the scan loop.
func (e *MonitoringEngine) emitAlert(ctx context.Context, ticket models.TicketSnapshot,
	assessment models.RiskAssessment, alertType models.AlertType, message string) (*models.SLAAlert, error) {

	alert := &models.SLAAlert{
		ID:                   uuid.New(),
		TicketID:             ticket.ID,
		Type:                 alertType,
		Severity:             models.SeverityForType(alertType),
		RiskScore:            assessment.RiskScore,
		TimeRemainingSeconds: assessment.TimeRemainingSeconds,
		Message:              message,
		CreatedAt:            e.clock.Now(),
	}
	if err := e.history.Append(ctx, alert); err != nil {
		return nil, err
	}

	if e.broadcaster != nil {
		e.broadcaster.SendAlertNotification(&AlertNotification{
			AlertID:   alert.ID.String(),
			TicketID:  alert.TicketID.String(),
			Type:      alert.Type,
			Severity:  alert.Severity,
			RiskScore: alert.RiskScore,
			Message:   alert.Message,
			Timestamp: alert.CreatedAt,
		})
	}

	e.dispatchDelivery(*alert, ticket)
	return alert, nil
}

// dispatchDelivery fans the alert out to its recipients concurrently.
// Delivery runs detached from the cycle's context: disabling alerting or
// cancelling a manual trigger must not abort an in-flight send.
func (e *MonitoringEngine) dispatchDelivery(alert models.SLAAlert, ticket models.TicketSnapshot) {
	if e.resolver == nil || e.pipeline == nil {
		return
	}
	recipients := e.recipientsFor(ticket)
	for _, recipientID := range recipients {
		recipientID := recipientID
		e.deliveryWG.Add(1)
		go func() {
			defer e.deliveryWG.Done()
			deliverCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			resolution, err := e.resolver.Resolve(deliverCtx, recipientID, alert.Type,
				ticket.Priority, alert.Severity, e.clock.Now())
			if err != nil {
				log.Printf("MonitoringEngine: resolve channels for %s: %v", recipientID, err)
				return
			}
			if resolution.Suppressed {
				return
			}
			e.pipeline.Deliver(deliverCtx, alert, ticket.Priority, recipientID, resolution.Channels)
		}()
	}
}

// recipientsFor returns the parties notified about a ticket's alerts.
// Today that is the assigned technician; unassigned tickets produce an
// alert record and a broadcast but no direct notification.
func (e *MonitoringEngine) recipientsFor(ticket models.TicketSnapshot) []uuid.UUID {
	if ticket.AssignedTechnicianID == nil {
		return nil
	}
	return []uuid.UUID{*ticket.AssignedTechnicianID}
}

// WaitForDeliveries blocks until all background deliveries finish.
func (e *MonitoringEngine) WaitForDeliveries() {
	e.deliveryWG.Wait()
}

func (e *MonitoringEngine) publishRiskUpdate(ticketID uuid.UUID, assessment models.RiskAssessment) {
	if e.broadcaster == nil {
		return
	}
	e.stateMu.Lock()
	st := e.ensureState(ticketID)
	material := !st.published ||
		assessment.RiskScore-st.lastPublished >= riskPublishDelta ||
		st.lastPublished-assessment.RiskScore >= riskPublishDelta ||
		(assessment.Breached() && st.lastPublished < 1.0)
	if material {
		st.lastPublished = assessment.RiskScore
		st.published = true
	}
	e.stateMu.Unlock()

	if material {
		e.broadcaster.SendRiskUpdate(&RiskUpdate{
			TicketID:             ticketID.String(),
			RiskScore:            assessment.RiskScore,
			TimeRemainingSeconds: assessment.TimeRemainingSeconds,
			Timestamp:            assessment.ComputedAt,
		})
	}
}

func (e *MonitoringEngine) ticketLock(ticketID uuid.UUID) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.ticketLocks[ticketID]
	if !ok {
		lock = &sync.Mutex{}
		e.ticketLocks[ticketID] = lock
	}
	return lock
}

func (e *MonitoringEngine) ensureState(ticketID uuid.UUID) *monitorState {
	st, ok := e.state[ticketID]
	if !ok {
		st = &monitorState{}
		e.state[ticketID] = st
	}
	return st
}

func (e *MonitoringEngine) isBreached(ticketID uuid.UUID) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st, ok := e.state[ticketID]
	return ok && st.breached
}

func (e *MonitoringEngine) markBreached(ticketID uuid.UUID) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.ensureState(ticketID).breached = true
}

func (e *MonitoringEngine) markEscalated(ticketID uuid.UUID, level int) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	st := e.ensureState(ticketID)
	if level > st.escalationLevel {
		st.escalationLevel = level
	}
}
