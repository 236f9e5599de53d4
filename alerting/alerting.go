// Package alerting evaluates declarative rules against aggregated metrics
// and drives the alert lifecycle: deduplication, suppression, notification,
// time-delayed escalation, and resolution.
package alerting

import (
	"fmt"
	"hash/fnv"
	"time"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Operator compares an aggregated value against a threshold.
type Operator string

const (
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
)

// Aggregation reduces metric points within a condition's time window.
type Aggregation string

const (
	AggAvg   Aggregation = "avg"
	AggSum   Aggregation = "sum"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggCount Aggregation = "count"
	AggRate  Aggregation = "rate"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusFiring     AlertStatus = "firing"
	StatusResolved   AlertStatus = "resolved"
	StatusSuppressed AlertStatus = "suppressed"
	StatusEscalated  AlertStatus = "escalated"
)

// AlertCondition is one threshold check over a metric window.
type AlertCondition struct {
	Metric      string
	Operator    Operator
	Threshold   float64
	TimeWindow  time.Duration
	Aggregation Aggregation
	Tags        map[string]string
}

// EscalationLevel is one step in an ordered escalation plan.
type EscalationLevel struct {
	// Delay is measured from the previous notification (the initial firing
	// for level zero).
	Delay    time.Duration
	Channels []string
	// Severity optionally overrides the alert's severity at this level.
	Severity Severity
}

// AlertRule declares when to fire and whom to tell.
//
// Conditions are evaluated in order; the first violated condition fires one
// alert and stops, so a rule fires at most once per evaluation cycle.
type AlertRule struct {
	ID         string
	Name       string
	Enabled    bool
	Conditions []AlertCondition
	Severity   Severity
	Component  string
	Operation  string
	Channels   []string
	Cooldown   time.Duration
	Escalation []EscalationLevel
}

// Acknowledgment records a human taking ownership of an alert.
type Acknowledgment struct {
	User    string
	Comment string
	Time    time.Time
}

// Alert is one firing instance of a rule.
type Alert struct {
	ID              string
	RuleID          string
	RuleName        string
	Severity        Severity
	Status          AlertStatus
	Metric          string
	Component       string
	Operation       string
	Value           float64
	Threshold       float64
	Message         string
	Fingerprint     string
	CreatedAt       time.Time
	ResolvedAt      time.Time
	ResolvedBy      string
	EscalationLevel int
	Acknowledgments []Acknowledgment
	// NotifiedChannels are the channel ids that accepted a notification for
	// this alert; resolution notices go back to the same channels.
	NotifiedChannels []string
}

// Acknowledged reports whether anyone has acknowledged the alert.
func (a *Alert) Acknowledged() bool {
	return len(a.Acknowledgments) > 0
}

// SuppressionRule silences alerts whose field matches the rule.
type SuppressionRule struct {
	ID       string
	Field    string // metric, component, operation, severity, channel
	Operator string // eq, neq, contains, prefix
	Value    string
}

// RateLimit is a fixed-window cap on notifications per channel.
type RateLimit struct {
	MaxAlerts int
	Window    time.Duration
}

// ChannelConfig declares a delivery sink.
type ChannelConfig struct {
	ID             string
	Type           string // console, webhook, redis
	Enabled        bool
	Config         map[string]string
	SeverityFilter []Severity
	RateLimit      *RateLimit
}

// NotificationRecord is one delivery attempt, kept for audit.
type NotificationRecord struct {
	AlertID   string
	ChannelID string
	Time      time.Time
	Kind      string // fire, escalate, resolve
	Err       string
}

// Config controls the alerting engine.
type Config struct {
	// EvaluationInterval is how often rules are evaluated.
	EvaluationInterval time.Duration

	// DeduplicationWindow drops re-occurrences of an already-firing
	// fingerprint within this window.
	DeduplicationWindow time.Duration

	// NotifyTimeout bounds each channel dispatch.
	NotifyTimeout time.Duration

	// MaxEscalations caps the escalation chain regardless of plan length.
	MaxEscalations int

	// HistoryRetention is how long alert history, the notification log, and
	// expired suppressions are kept.
	HistoryRetention time.Duration

	// MaxHistory bounds the in-memory history regardless of age.
	MaxHistory int

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration
}

// DefaultConfig returns alerting defaults.
func DefaultConfig() Config {
	return Config{
		EvaluationInterval:  time.Minute,
		DeduplicationWindow: 5 * time.Minute,
		NotifyTimeout:       5 * time.Second,
		MaxEscalations:      3,
		HistoryRetention:    7 * 24 * time.Hour,
		MaxHistory:          1000,
		CleanupInterval:     time.Hour,
	}
}

// fingerprint identifies "the same alert condition firing again" for
// deduplication: a stable hash of rule, metric, component, and operation.
func fingerprint(ruleID, metric, component, operation string) string {
	h := fnv.New64a()
	h.Write([]byte(ruleID))
	h.Write([]byte{0})
	h.Write([]byte(metric))
	h.Write([]byte{0})
	h.Write([]byte(component))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	return fmt.Sprintf("%016x", h.Sum64())
}

func validSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validOperator(op Operator) bool {
	switch op {
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpEqual:
		return true
	}
	return false
}

func validAggregation(agg Aggregation) bool {
	switch agg {
	case AggAvg, AggSum, AggMin, AggMax, AggCount, AggRate:
		return true
	}
	return false
}
