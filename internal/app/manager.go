package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"stockwatch/internal/clock"
	"stockwatch/internal/config"
	"stockwatch/internal/domain"
	"stockwatch/internal/engine"
	"stockwatch/internal/nlrule"
	"stockwatch/internal/notify"
	"stockwatch/internal/transport"

	"github.com/hashicorp/go-multierror"
)

// DefaultActivityLimit is used when caller passes non-positive limit.
const DefaultActivityLimit = 20

// Manager wires rule engine output into dispatcher and transport sink.
// Params: runtime config, engine, dispatcher, event sink, logger, and clock.
// Returns: command surface of alerting subsystem.
type Manager struct {
	cfg        config.Config
	logger     *slog.Logger
	engine     *engine.Engine
	dispatcher *notify.Dispatcher
	sink       transport.Sink
	clock      clock.Clock
	recipients domain.Recipients

	mu          sync.Mutex
	initialized bool
	inflight    sync.WaitGroup
}

// CreateResult is response envelope of natural-language rule creation.
// Params: success flag, created rule, compiler description, or failure reason with suggestions.
// Returns: value returned to command surface callers.
type CreateResult struct {
	Success     bool         `json:"success"`
	RuleID      string       `json:"rule_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Rule        *domain.Rule `json:"rule,omitempty"`
	Error       string       `json:"error,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

// SystemStatus summarizes manager, engine, and dispatcher state.
type SystemStatus struct {
	Initialized   bool          `json:"initialized"`
	Engine        engine.Status `json:"engine"`
	Notifications notify.Stats  `json:"notifications"`
}

// ActivitySummary counts items behind recent activity view.
type ActivitySummary struct {
	TotalAlerts          int   `json:"total_alerts"`
	UnacknowledgedAlerts int   `json:"unacknowledged_alerts"`
	TotalNotifications   int64 `json:"total_notifications"`
	UnreadNotifications  int   `json:"unread_notifications"`
}

// Activity merges recent alerts and delivery records.
type Activity struct {
	Alerts        []domain.Alert        `json:"alerts"`
	Notifications []domain.Notification `json:"notifications"`
	Summary       ActivitySummary       `json:"summary"`
}

// NewManager creates manager and subscribes it to engine and dispatcher callbacks.
// Params: config snapshot, logger, engine, dispatcher, sink (nil = drop events), and clock.
// Returns: manager; rules are not installed until InstallRules.
func NewManager(
	cfg config.Config,
	logger *slog.Logger,
	eng *engine.Engine,
	dispatcher *notify.Dispatcher,
	sink transport.Sink,
	clk clock.Clock,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = transport.Nop{}
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	m := &Manager{
		cfg:        cfg,
		logger:     logger.With("component", "manager"),
		engine:     eng,
		dispatcher: dispatcher,
		sink:       sink,
		clock:      clk,
		recipients: cfg.Recipients.Recipients(),
	}
	eng.OnAlert(m.handleAlert)
	dispatcher.OnInApp(m.handleInApp)
	return m
}

// InstallRules registers default rules (unless disabled) and `[rule.<id>]` tables.
// Params: none.
// Returns: aggregated rule registration error.
func (m *Manager) InstallRules() error {
	configured := make(map[string]struct{}, len(m.cfg.Rule))
	for _, rule := range m.cfg.Rule {
		configured[rule.ID] = struct{}{}
	}

	var result *multierror.Error
	if m.cfg.Service.DefaultRulesEnabled() {
		for _, def := range engine.DefaultRules() {
			if _, overridden := configured[def.ID]; overridden {
				continue
			}
			if _, err := m.engine.AddRule(def); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	for _, rule := range m.cfg.Rule {
		if _, err := m.engine.AddRule(engine.FromConfig(rule)); err != nil {
			result = multierror.Append(result, fmt.Errorf("rule %q: %w", rule.ID, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	m.logger.Info("rules installed", "count", len(m.engine.ListRules()))
	return nil
}

// Initialize starts monitoring at configured interval.
// Params: none.
// Returns: scheduler start error; second call is a logged no-op.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		m.logger.Warn("alert manager already initialized")
		return nil
	}
	if err := m.engine.StartMonitoring(m.cfg.Service.MonitorInterval()); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}
	m.initialized = true
	m.logger.Info("alert manager initialized", "interval", m.cfg.Service.MonitorInterval().String())
	return nil
}

// Initialized reports whether monitoring was started through Initialize.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Shutdown stops monitoring, waits for in-flight dispatches, and marks manager uninitialized.
// Params: context bounding the wait.
// Returns: context error when dispatches did not finish in time.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.engine.StopMonitoring()
	m.initialized = false
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("alert manager stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight notifications: %w", ctx.Err())
	}
}

// CreateAlertFromNaturalLanguage compiles text and registers resulting rule.
// Params: free-text instruction.
// Returns: success envelope with rule id or failure envelope with suggestions.
func (m *Manager) CreateAlertFromNaturalLanguage(text string) CreateResult {
	compiled := nlrule.Compile(text)
	if !compiled.Valid {
		m.logger.Info("natural-language rule rejected", "reason", compiled.Error)
		return CreateResult{Error: compiled.Error, Suggestions: compiled.Suggestions}
	}

	rule, err := m.engine.AddRule(engine.RuleDefinition{
		Name:        compiled.Rule.Name,
		Description: compiled.Rule.Description,
		Condition:   compiled.Rule.Condition,
		Threshold:   compiled.Rule.Threshold,
		Priority:    compiled.Rule.Priority,
		Channels:    compiled.Rule.Channels,
		ProductID:   compiled.Rule.ProductID,
	})
	if err != nil {
		return CreateResult{
			Error:       err.Error(),
			Suggestions: append([]string(nil), nlrule.Suggestions...),
		}
	}
	m.logger.Info("natural-language rule created", "rule", rule.ID, "condition", rule.Condition, "threshold", rule.Threshold)
	return CreateResult{
		Success:     true,
		RuleID:      rule.ID,
		Description: compiled.Description,
		Rule:        &rule,
	}
}

// SystemStatus returns combined status snapshot.
func (m *Manager) SystemStatus() SystemStatus {
	return SystemStatus{
		Initialized:   m.Initialized(),
		Engine:        m.engine.Status(),
		Notifications: m.dispatcher.Stats(),
	}
}

// RecentActivity returns newest alerts and delivery records with summary counts.
// Params: per-list limit (<=0 uses DefaultActivityLimit).
// Returns: activity snapshot.
func (m *Manager) RecentActivity(limit int) Activity {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	status := m.engine.Status()
	stats := m.dispatcher.Stats()
	return Activity{
		Alerts:        m.engine.AlertHistory(limit),
		Notifications: m.dispatcher.RecentNotifications(limit),
		Summary: ActivitySummary{
			TotalAlerts:          status.TotalAlerts,
			UnacknowledgedAlerts: status.UnacknowledgedAlerts,
			TotalNotifications:   stats.TotalNotifications,
			UnreadNotifications:  stats.Unread,
		},
	}
}

// CheckAlertsNow runs one evaluation pass outside the schedule.
// Params: context for data source calls.
// Returns: triggered alerts; their dispatch continues in background.
func (m *Manager) CheckAlertsNow(ctx context.Context) []domain.Alert {
	return m.engine.CheckAllAlerts(ctx)
}

// ListRules returns rules in insertion order.
func (m *Manager) ListRules() []domain.Rule {
	return m.engine.ListRules()
}

// ToggleAlertRule enables or disables rule.
func (m *Manager) ToggleAlertRule(id string, enabled bool) (domain.Rule, bool) {
	return m.engine.ToggleRule(id, enabled)
}

// RemoveAlertRule deletes rule.
func (m *Manager) RemoveAlertRule(id string) bool {
	return m.engine.RemoveRule(id)
}

// AcknowledgeAlert marks alert acknowledged.
func (m *Manager) AcknowledgeAlert(id string) (domain.Alert, bool) {
	return m.engine.AcknowledgeAlert(id)
}

// AlertHistory returns newest alerts first.
func (m *Manager) AlertHistory(limit int) []domain.Alert {
	return m.engine.AlertHistory(limit)
}

// MarkNotificationAsRead sets read flag on in-app notification.
func (m *Manager) MarkNotificationAsRead(id string) bool {
	return m.dispatcher.MarkAsRead(id)
}

// DismissNotification sets dismissed flag on in-app notification.
func (m *Manager) DismissNotification(id string) bool {
	return m.dispatcher.DismissNotification(id)
}

// InAppNotifications lists inbox entries newest first.
func (m *Manager) InAppNotifications(limit int, unreadOnly bool) []domain.InAppNotification {
	return m.dispatcher.InAppNotifications(limit, unreadOnly)
}

// RecipientsForAlert applies priority policy to configured recipients.
// Params: triggered alert.
// Returns: recipient set; sms numbers kept for high priority and for medium alerts with out-of-stock evidence.
func (m *Manager) RecipientsForAlert(alert domain.Alert) domain.Recipients {
	out := domain.Recipients{
		Emails: append([]string(nil), m.recipients.Emails...),
		Phones: append([]string(nil), m.recipients.Phones...),
	}
	switch alert.Priority {
	case domain.PriorityHigh:
	case domain.PriorityLow:
		out.Phones = nil
	default:
		if !alert.HasOutOfStockProduct() {
			out.Phones = nil
		}
	}
	return out
}

// handleAlert publishes alert event and dispatches notifications without blocking the pass.
func (m *Manager) handleAlert(alert domain.Alert) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.publish(domain.EventAlertTriggered, alert)

		recipients := m.RecipientsForAlert(alert)
		notification := m.dispatcher.Send(context.Background(), alert, recipients)
		m.logger.Info("alert dispatched",
			"alert_id", alert.ID,
			"rule", alert.RuleID,
			"priority", alert.Priority,
			"channels", summarizeStatus(notification.Status))
	}()
}

// handleInApp forwards inbox entries to transport sink.
func (m *Manager) handleInApp(notification domain.InAppNotification) {
	m.publish(domain.EventInAppNotification, notification)
}

func (m *Manager) publish(kind domain.EventKind, payload any) {
	event := domain.Event{Kind: kind, Payload: payload, Timestamp: m.clock.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sink.Publish(ctx, event); err != nil {
		m.logger.Warn("event publish failed", "event", string(kind), "error", err.Error())
	}
}

// waitDispatches blocks until background dispatches finish.
func (m *Manager) waitDispatches() {
	m.inflight.Wait()
}

// summarizeStatus renders per-channel outcome as `channel=ok|error` pairs in channel order.
func summarizeStatus(status map[string]domain.ChannelStatus) []string {
	channels := make([]string, 0, len(status))
	for channel := range status {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	out := make([]string, 0, len(channels))
	for _, channel := range channels {
		if status[channel].Success {
			out = append(out, channel+"=ok")
			continue
		}
		out = append(out, channel+"="+status[channel].Error)
	}
	return out
}
