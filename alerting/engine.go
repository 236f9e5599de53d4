package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instantcocoa/pulse/metrics"
)

// ErrRuleNotFound is returned by CreateAlert for an unknown rule id. It is
// the one hard error in this package: referencing a rule that was never
// registered is a programming mistake, not a runtime condition.
var ErrRuleNotFound = errors.New("alert rule not found")

// MetricSource supplies raw metric points for condition evaluation. The tags
// argument is a filter: points come from every series of the name whose tags
// contain it, and a nil filter matches all series of the name.
// *metrics.Collector satisfies it.
type MetricSource interface {
	MetricValues(name string, tags map[string]string, since, until time.Time) []metrics.MetricPoint
}

// Notification kinds passed to channels.
const (
	NotifyFire     = "fire"
	NotifyEscalate = "escalate"
	NotifyResolve  = "resolve"
)

// Notification is one delivery handed to a channel.
type Notification struct {
	Alert Alert
	Kind  string
}

// Notifier delivers notifications for one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type channelState struct {
	cfg      ChannelConfig
	notifier Notifier
}

// Engine owns rules, channels, and the alert lifecycle.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	source MetricSource
	store  *alertStore

	mu        sync.Mutex
	rules     map[string]*AlertRule
	channels  map[string]*channelState
	lastFired map[string]time.Time
	timers    map[string]*time.Timer

	firedTotal uint64

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates an alerting engine reading metrics from source.
// A nil logger falls back to slog.Default().
func New(cfg Config, source MetricSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.EvaluationInterval <= 0 {
		cfg.EvaluationInterval = def.EvaluationInterval
	}
	if cfg.DeduplicationWindow <= 0 {
		cfg.DeduplicationWindow = def.DeduplicationWindow
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}
	if cfg.MaxEscalations <= 0 {
		cfg.MaxEscalations = def.MaxEscalations
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = def.HistoryRetention
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "alerting"),
		source:    source,
		store:     newAlertStore(),
		rules:     make(map[string]*AlertRule),
		channels:  make(map[string]*channelState),
		lastFired: make(map[string]time.Time),
		timers:    make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// RegisterRule validates and registers (or replaces) a rule.
func (e *Engine) RegisterRule(rule AlertRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = &rule
	return nil
}

// RegisterChannel attaches a notifier under the channel configuration.
func (e *Engine) RegisterChannel(cfg ChannelConfig, notifier Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[cfg.ID] = &channelState{cfg: cfg, notifier: notifier}
}

// AddSuppressionRule registers a declarative suppression rule.
func (e *Engine) AddSuppressionRule(rule SuppressionRule) {
	e.store.addSuppression(rule)
}

// Snooze suppresses a fingerprint until the deadline.
func (e *Engine) Snooze(fp string, until time.Time) {
	e.store.snooze(fp, until)
}

// Start launches the evaluation and cleanup loops.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go e.loop()
}

// Stop halts the loops and cancels pending escalation timers.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.mu.Lock()
		started := e.started
		for id, timer := range e.timers {
			timer.Stop()
			delete(e.timers, id)
		}
		e.mu.Unlock()
		if started {
			<-e.doneCh
		}
	})
}

func (e *Engine) loop() {
	defer close(e.doneCh)

	evaluate := time.NewTicker(e.cfg.EvaluationInterval)
	defer evaluate.Stop()
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-evaluate.C:
			e.EvaluateNow()
		case <-cleanup.C:
			e.store.cleanup(e.cfg.HistoryRetention)
		}
	}
}

// EvaluateNow runs one evaluation cycle over every registered rule.
func (e *Engine) EvaluateNow() {
	now := time.Now()

	e.mu.Lock()
	rules := make([]*AlertRule, 0, len(e.rules))
	for _, rule := range e.rules {
		rules = append(rules, rule)
	}
	e.mu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !e.cooldownElapsed(rule, now) {
			continue
		}
		for _, cond := range rule.Conditions {
			value, ok := e.evaluateCondition(cond, now)
			if !ok {
				continue
			}
			if violated(cond.Operator, value, cond.Threshold) {
				e.fire(rule, cond.Metric, value, cond.Threshold, now)
				break
			}
		}
	}
}

func (e *Engine) cooldownElapsed(rule *AlertRule, now time.Time) bool {
	if rule.Cooldown <= 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[rule.ID]
	return !ok || now.Sub(last) >= rule.Cooldown
}

// evaluateCondition aggregates the condition's metric over its window.
// A condition with no data points, or with an unknown aggregation, does not
// evaluate: it reports not-violated rather than a zero value.
func (e *Engine) evaluateCondition(cond AlertCondition, now time.Time) (float64, bool) {
	if e.source == nil {
		return 0, false
	}
	points := e.source.MetricValues(cond.Metric, cond.Tags, now.Add(-cond.TimeWindow), now)
	if len(points) == 0 {
		return 0, false
	}

	var sum float64
	min := points[0].Value
	max := points[0].Value
	for _, p := range points {
		sum += p.Value
		if p.Value < min {
			min = p.Value
		}
		if p.Value > max {
			max = p.Value
		}
	}

	switch cond.Aggregation {
	case AggAvg:
		return sum / float64(len(points)), true
	case AggSum:
		return sum, true
	case AggMin:
		return min, true
	case AggMax:
		return max, true
	case AggCount:
		return float64(len(points)), true
	case AggRate:
		// Summed values divided by the window length in seconds, whatever
		// the underlying metric's own semantics are.
		if cond.TimeWindow <= 0 {
			return 0, false
		}
		return sum / cond.TimeWindow.Seconds(), true
	default:
		return 0, false
	}
}

func violated(op Operator, value, threshold float64) bool {
	switch op {
	case OpGreaterThan:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessThan:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// CreateAlert fires an alert for the rule outside the evaluation cycle.
// An unknown rule id is a hard error.
func (e *Engine) CreateAlert(ruleID, metric string, value, threshold float64) (Alert, error) {
	e.mu.Lock()
	rule, ok := e.rules[ruleID]
	e.mu.Unlock()
	if !ok {
		return Alert{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return e.fire(rule, metric, value, threshold, time.Now()), nil
}

// fire creates one alert from a rule violation and walks it through
// deduplication, suppression, notification, and escalation scheduling.
func (e *Engine) fire(rule *AlertRule, metric string, value, threshold float64, now time.Time) Alert {
	fp := fingerprint(rule.ID, metric, rule.Component, rule.Operation)

	alert := &Alert{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Status:      StatusFiring,
		Metric:      metric,
		Component:   rule.Component,
		Operation:   rule.Operation,
		Value:       value,
		Threshold:   threshold,
		Message:     fmt.Sprintf("%s: %s is %g (threshold %g)", rule.Name, metric, value, threshold),
		Fingerprint: fp,
		CreatedAt:   now,
	}

	if e.store.firingDuplicate(fp, e.cfg.DeduplicationWindow) {
		e.store.recordDuplicate(*alert, e.cfg.MaxHistory)
		e.logger.Debug("alert deduplicated", "rule", rule.ID, "fingerprint", fp)
		return *alert
	}

	e.mu.Lock()
	e.lastFired[rule.ID] = now
	e.firedTotal++
	e.mu.Unlock()

	if e.store.snoozed(fp) || e.store.suppressed(alert, rule.Channels) {
		alert.Status = StatusSuppressed
		e.store.addActive(alert, e.cfg.MaxHistory)
		e.logger.Info("alert suppressed",
			"rule", rule.ID,
			"metric", metric,
			"fingerprint", fp,
		)
		return *alert
	}

	e.store.addActive(alert, e.cfg.MaxHistory)
	e.logger.Warn("alert firing",
		"rule", rule.ID,
		"metric", metric,
		"value", value,
		"threshold", threshold,
		"severity", string(alert.Severity),
	)

	e.notify(*alert, rule.Channels, NotifyFire)
	e.scheduleEscalation(*rule, alert.ID, 0)
	return *alert
}

// notify dispatches to each named channel, honoring per-channel severity
// filters and rate limits. A failing channel is recorded and skipped; it
// never blocks the others.
func (e *Engine) notify(alert Alert, channelIDs []string, kind string) {
	for _, id := range channelIDs {
		e.mu.Lock()
		state, ok := e.channels[id]
		e.mu.Unlock()
		if !ok {
			e.logger.Warn("unknown alert channel", "channel", id)
			continue
		}
		if !state.cfg.Enabled {
			continue
		}
		if !severityAllowed(state.cfg.SeverityFilter, alert.Severity) {
			continue
		}
		if kind != NotifyResolve && !e.store.allowNotification(id, state.cfg.RateLimit) {
			e.logger.Debug("notification rate limited", "channel", id, "alert", alert.ID)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.NotifyTimeout)
		err := state.notifier.Notify(ctx, Notification{Alert: alert, Kind: kind})
		cancel()

		rec := NotificationRecord{
			AlertID:   alert.ID,
			ChannelID: id,
			Time:      time.Now(),
			Kind:      kind,
		}
		if err != nil {
			rec.Err = err.Error()
			e.logger.Error("notification failed",
				"channel", id,
				"alert", alert.ID,
				"error", err,
			)
		} else if kind != NotifyResolve {
			e.store.markNotified(alert.ID, id)
		}
		e.store.recordNotification(rec)
	}
}

// scheduleEscalation arms the timer for the given level, reporting whether a
// level remained to schedule.
func (e *Engine) scheduleEscalation(rule AlertRule, alertID string, level int) bool {
	if level >= len(rule.Escalation) || level >= e.cfg.MaxEscalations {
		return false
	}
	delay := rule.Escalation[level].Delay
	timer := time.AfterFunc(delay, func() {
		e.escalate(rule, alertID, level)
	})
	e.mu.Lock()
	e.timers[alertID] = timer
	e.mu.Unlock()
	return true
}

// escalate advances an unacknowledged alert to the next escalation level and
// notifies that level's channels instead of the rule's own.
func (e *Engine) escalate(rule AlertRule, alertID string, level int) {
	step := rule.Escalation[level]
	alert, ok := e.store.escalate(alertID, level+1, step.Severity)
	if !ok {
		e.cancelEscalation(alertID)
		return
	}

	e.logger.Warn("alert escalated",
		"alert", alertID,
		"rule", rule.ID,
		"level", level+1,
	)
	e.notify(alert, step.Channels, NotifyEscalate)
	if !e.scheduleEscalation(rule, alertID, level+1) {
		// End of the chain: remove the spent timer entry.
		e.cancelEscalation(alertID)
	}
}

func (e *Engine) cancelEscalation(alertID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if timer, ok := e.timers[alertID]; ok {
		timer.Stop()
		delete(e.timers, alertID)
	}
}

// Acknowledge records ownership of an active alert, halting escalation.
// It reports whether the alert was found.
func (e *Engine) Acknowledge(alertID, user, comment string) bool {
	if !e.store.acknowledge(alertID, user, comment) {
		return false
	}
	e.cancelEscalation(alertID)
	e.logger.Info("alert acknowledged", "alert", alertID, "user", user)
	return true
}

// ResolveAlert cancels pending escalation, removes the alert from the active
// set, and sends resolution notices to the channels that previously fired
// for it. It reports whether the alert was found.
func (e *Engine) ResolveAlert(alertID, user, comment string) bool {
	e.cancelEscalation(alertID)

	alert, ok := e.store.resolve(alertID, user, comment, e.cfg.MaxHistory)
	if !ok {
		return false
	}

	e.logger.Info("alert resolved", "alert", alertID, "user", user)
	e.notify(alert, alert.NotifiedChannels, NotifyResolve)
	return true
}

// ActiveAlerts returns copies of every alert in the active set.
func (e *Engine) ActiveAlerts() []Alert {
	return e.store.activeAlerts()
}

// History returns up to limit of the most recent history entries.
func (e *Engine) History(limit int) []Alert {
	return e.store.historyTail(limit)
}

// NotificationLog returns a copy of the delivery audit log.
func (e *Engine) NotificationLog() []NotificationRecord {
	return e.store.notificationLog()
}

// Stats summarizes engine counters.
type Stats struct {
	ActiveAlerts int
	FiredTotal   uint64
	Duplicates   uint64
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	fired := e.firedTotal
	e.mu.Unlock()
	return Stats{
		ActiveAlerts: e.store.activeCount(),
		FiredTotal:   fired,
		Duplicates:   e.store.duplicateCount(),
	}
}

func severityAllowed(filter []Severity, severity Severity) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range filter {
		if s == severity {
			return true
		}
	}
	return false
}
