package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stockwatch/internal/clock"
	"stockwatch/internal/datasource"
	"stockwatch/internal/domain"
	"stockwatch/internal/logging"
	"stockwatch/internal/metrics"
	"stockwatch/internal/ring"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultHistorySize bounds retained alerts.
	DefaultHistorySize = 100

	triggerScheduled = "scheduled"
	triggerManual    = "manual"
)

// AlertHandler receives every triggered alert.
type AlertHandler func(alert domain.Alert)

// Status summarizes engine state.
// Params: rule/alert counters and scheduler state.
// Returns: snapshot for status endpoints.
type Status struct {
	TotalRules           int           `json:"total_rules"`
	EnabledRules         int           `json:"enabled_rules"`
	TotalAlerts          int           `json:"total_alerts"`
	UnacknowledgedAlerts int           `json:"unacknowledged_alerts"`
	Monitoring           bool          `json:"monitoring"`
	Interval             time.Duration `json:"interval"`
	LastCheck            *time.Time    `json:"last_check,omitempty"`
}

// Engine stores rules, evaluates them against the data source, and keeps bounded alert history.
// Params: data source port, logger, and clock.
// Returns: rule engine driven by scheduler or manual checks.
type Engine struct {
	source datasource.Port
	logger *slog.Logger
	clock  clock.Clock

	mu        sync.RWMutex
	rules     map[string]*domain.Rule
	order     []string
	history   *ring.Buffer[*domain.Alert]
	handlers  []AlertHandler
	lastCheck *time.Time

	// passMu serializes evaluation passes.
	passMu sync.Mutex

	schedMu    sync.Mutex
	scheduler  *cron.Cron
	cancelRun  context.CancelFunc
	monitoring atomic.Bool
	interval   atomic.Int64
}

// New constructs rule engine with empty rule store.
// Params: data source port, logger, and clock (nil uses real clock).
// Returns: initialized engine instance.
func New(source datasource.Port, logger *slog.Logger, clk clock.Clock) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Engine{
		source:  source,
		logger:  logger.With("component", "engine"),
		clock:   clk,
		rules:   make(map[string]*domain.Rule),
		history: ring.New[*domain.Alert](DefaultHistorySize),
	}
}

// AddRule validates definition, applies defaults, and registers rule.
// Params: rule definition.
// Returns: stored rule snapshot, ErrDuplicateRule, or ErrInvalidRule-wrapped error.
func (e *Engine) AddRule(def RuleDefinition) (domain.Rule, error) {
	rule, err := normalizeRule(def)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.CreatedAt = e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[rule.ID]; exists {
		return domain.Rule{}, fmt.Errorf("%w: %q", ErrDuplicateRule, rule.ID)
	}
	e.rules[rule.ID] = &rule
	e.order = append(e.order, rule.ID)
	e.updateRuleGaugeLocked()
	return rule.Clone(), nil
}

// RemoveRule deletes rule by id.
// Params: rule id.
// Returns: true when rule existed.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[id]; !exists {
		return false
	}
	delete(e.rules, id)
	for i, ruleID := range e.order {
		if ruleID == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.updateRuleGaugeLocked()
	return true
}

// ToggleRule sets rule enabled flag; statistics are kept.
// Params: rule id and desired flag.
// Returns: updated rule snapshot and found flag.
func (e *Engine) ToggleRule(id string, enabled bool) (domain.Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, exists := e.rules[id]
	if !exists {
		return domain.Rule{}, false
	}
	rule.Enabled = enabled
	e.updateRuleGaugeLocked()
	return rule.Clone(), true
}

// Rule returns one rule snapshot.
// Params: rule id.
// Returns: rule and found flag.
func (e *Engine) Rule(id string) (domain.Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, exists := e.rules[id]
	if !exists {
		return domain.Rule{}, false
	}
	return rule.Clone(), true
}

// ListRules returns rules in insertion order.
// Params: none.
// Returns: rule snapshots.
func (e *Engine) ListRules() []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id].Clone())
	}
	return out
}

// OnAlert registers subscriber for triggered alerts.
// Params: handler called synchronously after alert is stored.
// Returns: none.
func (e *Engine) OnAlert(handler AlertHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	e.handlers = append(e.handlers, handler)
	e.mu.Unlock()
}

// StartMonitoring runs one pass immediately and then schedules a pass every interval.
// Params: evaluation interval (>= 1s); a running schedule is replaced.
// Returns: validation error.
func (e *Engine) StartMonitoring(interval time.Duration) error {
	if interval < time.Second {
		return fmt.Errorf("monitor interval must be >= 1s, got %s", interval)
	}

	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	e.stopLocked()

	runCtx, cancel := context.WithCancel(context.Background())
	cronLogger := logging.Cron(e.logger)
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	scheduler.Schedule(cron.Every(interval), cron.FuncJob(func() {
		e.runPass(runCtx, triggerScheduled)
	}))

	e.scheduler = scheduler
	e.cancelRun = cancel
	e.interval.Store(int64(interval))
	e.monitoring.Store(true)
	e.logger.Info("monitoring started", "interval", interval.String())

	e.runPass(runCtx, triggerScheduled)
	scheduler.Start()
	return nil
}

// StopMonitoring cancels schedule and waits for in-flight scheduled pass.
// Params: none; safe when not running.
// Returns: none; no scheduled pass starts after return.
func (e *Engine) StopMonitoring() {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if e.stopLocked() {
		e.logger.Info("monitoring stopped")
	}
}

// stopLocked stops scheduler while schedMu is held.
// Params: none.
// Returns: true when a schedule was running.
func (e *Engine) stopLocked() bool {
	if e.scheduler == nil {
		return false
	}
	<-e.scheduler.Stop().Done()
	e.cancelRun()
	e.scheduler = nil
	e.cancelRun = nil
	e.monitoring.Store(false)
	e.interval.Store(0)
	return true
}

// Monitoring reports whether schedule is active.
func (e *Engine) Monitoring() bool {
	return e.monitoring.Load()
}

// CheckAllAlerts evaluates every enabled rule once, waiting for a running pass first.
// Params: context for data source calls.
// Returns: alerts triggered during this pass.
func (e *Engine) CheckAllAlerts(ctx context.Context) []domain.Alert {
	return e.runPass(ctx, triggerManual)
}

// runPass evaluates enabled rules sequentially; rule errors are logged and skipped.
// Params: context and trigger label for metrics.
// Returns: triggered alerts in rule order.
func (e *Engine) runPass(ctx context.Context, trigger string) []domain.Alert {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	started := time.Now()
	metrics.EvaluationPassesTotal.WithLabelValues(trigger).Inc()
	defer func() {
		metrics.EvaluationPassDuration.Observe(time.Since(started).Seconds())
	}()

	rules := e.enabledRules()
	triggered := make([]domain.Alert, 0)
	for _, rule := range rules {
		if ctx.Err() != nil {
			e.logger.Warn("evaluation pass interrupted", "trigger", trigger, "error", ctx.Err().Error())
			break
		}
		result, err := e.evaluate(ctx, rule)
		if err != nil {
			metrics.RuleEvaluationErrorsTotal.WithLabelValues(string(rule.Condition)).Inc()
			e.logger.Error("rule evaluation failed", "rule", rule.ID, "condition", rule.Condition, "error", err.Error())
			continue
		}
		if !result.triggered {
			continue
		}
		alert := e.recordTrigger(rule, result)
		triggered = append(triggered, alert)
		e.emit(alert)
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.lastCheck = &now
	e.mu.Unlock()

	e.logger.Debug("evaluation pass finished", "trigger", trigger, "rules", len(rules), "alerts", len(triggered))
	return triggered
}

// enabledRules snapshots enabled rules in insertion order.
func (e *Engine) enabledRules() []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Rule, 0, len(e.order))
	for _, id := range e.order {
		if rule := e.rules[id]; rule.Enabled {
			out = append(out, rule.Clone())
		}
	}
	return out
}

// recordTrigger updates rule statistics and stores alert in history.
// Params: evaluated rule snapshot and evaluation result.
// Returns: stored alert snapshot.
func (e *Engine) recordTrigger(rule domain.Rule, result evaluation) domain.Alert {
	now := e.clock.Now()
	alert := &domain.Alert{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Type:      rule.Type,
		Priority:  rule.Priority,
		Message:   result.message,
		Data:      result.data,
		Channels:  append([]string(nil), rule.Channels...),
		Timestamp: now,
	}

	e.mu.Lock()
	if stored, exists := e.rules[rule.ID]; exists {
		triggeredAt := now
		stored.LastTriggered = &triggeredAt
		stored.TriggerCount++
	}
	e.history.Push(alert)
	snapshot := alert.Clone()
	e.mu.Unlock()

	metrics.AlertsTriggeredTotal.WithLabelValues(string(alert.Type), string(alert.Priority)).Inc()
	e.logger.Info("alert triggered", "rule", rule.ID, "alert_id", alert.ID, "priority", alert.Priority, "message", alert.Message)
	return snapshot
}

// emit calls subscribers outside engine locks; a panicking subscriber does not stop the pass.
func (e *Engine) emit(alert domain.Alert) {
	e.mu.RLock()
	handlers := append([]AlertHandler(nil), e.handlers...)
	e.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					e.logger.Error("alert subscriber panicked", "alert_id", alert.ID, "panic", fmt.Sprint(recovered))
				}
			}()
			handler(alert.Clone())
		}()
	}
}

// AcknowledgeAlert marks alert acknowledged; repeated calls keep first acknowledgement time.
// Params: alert id.
// Returns: alert snapshot and found flag.
func (e *Engine) AcknowledgeAlert(id string) (domain.Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var found *domain.Alert
	e.history.Each(func(alert *domain.Alert) bool {
		if alert.ID == id {
			found = alert
			return false
		}
		return true
	})
	if found == nil {
		return domain.Alert{}, false
	}
	if !found.Acknowledged {
		now := e.clock.Now()
		resolved := now
		found.Acknowledged = true
		found.AcknowledgedAt = &now
		found.ResolvedAt = &resolved
	}
	return found.Clone(), true
}

// AlertHistory returns newest alerts first.
// Params: max entries (<=0 returns all retained).
// Returns: alert snapshots.
func (e *Engine) AlertHistory(limit int) []domain.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stored := e.history.Newest(limit)
	out := make([]domain.Alert, 0, len(stored))
	for _, alert := range stored {
		out = append(out, alert.Clone())
	}
	return out
}

// Status returns rule/alert counters and scheduler state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		TotalRules:  len(e.rules),
		TotalAlerts: e.history.Len(),
		Monitoring:  e.monitoring.Load(),
		Interval:    time.Duration(e.interval.Load()),
	}
	for _, rule := range e.rules {
		if rule.Enabled {
			status.EnabledRules++
		}
	}
	e.history.Each(func(alert *domain.Alert) bool {
		if !alert.Acknowledged {
			status.UnacknowledgedAlerts++
		}
		return true
	})
	if e.lastCheck != nil {
		last := *e.lastCheck
		status.LastCheck = &last
	}
	return status
}

// updateRuleGaugeLocked refreshes enabled/disabled gauges; mu must be held.
func (e *Engine) updateRuleGaugeLocked() {
	enabled := 0
	for _, rule := range e.rules {
		if rule.Enabled {
			enabled++
		}
	}
	metrics.RulesGauge.WithLabelValues("enabled").Set(float64(enabled))
	metrics.RulesGauge.WithLabelValues("disabled").Set(float64(len(e.rules) - enabled))
}

// IsRuleError reports whether error came from rule validation or duplicate id.
// Params: error returned by AddRule.
// Returns: true for client-side rule errors.
func IsRuleError(err error) bool {
	return errors.Is(err, ErrInvalidRule) || errors.Is(err, ErrDuplicateRule)
}
