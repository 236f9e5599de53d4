package alerting

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleSet is the declarative alerting configuration: rules, channels, and
// suppression rules, typically loaded from a YAML file.
type RuleSet struct {
	Rules        []AlertRule
	Channels     []ChannelConfig
	Suppressions []SuppressionRule
}

// YAML document shapes. Durations are strings ("5m", "300s") parsed with
// time.ParseDuration on load.
type ruleFile struct {
	Rules        []ruleSpec        `yaml:"rules"`
	Channels     []channelSpec     `yaml:"channels"`
	Suppressions []suppressionSpec `yaml:"suppressions"`
}

type ruleSpec struct {
	ID         string           `yaml:"id"`
	Name       string           `yaml:"name"`
	Enabled    *bool            `yaml:"enabled"`
	Severity   string           `yaml:"severity"`
	Component  string           `yaml:"component"`
	Operation  string           `yaml:"operation"`
	Channels   []string         `yaml:"channels"`
	Cooldown   string           `yaml:"cooldown"`
	Conditions []conditionSpec  `yaml:"conditions"`
	Escalation []escalationSpec `yaml:"escalation"`
}

type conditionSpec struct {
	Metric      string            `yaml:"metric"`
	Operator    string            `yaml:"operator"`
	Threshold   float64           `yaml:"threshold"`
	TimeWindow  string            `yaml:"time_window"`
	Aggregation string            `yaml:"aggregation"`
	Tags        map[string]string `yaml:"tags"`
}

type escalationSpec struct {
	Delay    string   `yaml:"delay"`
	Channels []string `yaml:"channels"`
	Severity string   `yaml:"severity"`
}

type channelSpec struct {
	ID             string            `yaml:"id"`
	Type           string            `yaml:"type"`
	Enabled        *bool             `yaml:"enabled"`
	Config         map[string]string `yaml:"config"`
	SeverityFilter []string          `yaml:"severity_filter"`
	RateLimit      *rateLimitSpec    `yaml:"rate_limit"`
}

type rateLimitSpec struct {
	MaxAlerts int    `yaml:"max_alerts"`
	Window    string `yaml:"window"`
}

type suppressionSpec struct {
	ID       string `yaml:"id"`
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// LoadRuleSet reads and validates a YAML rule file.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet parses and validates YAML rule configuration.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	rs := &RuleSet{}

	for i, spec := range file.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.ID, err)
		}
		if err := ValidateRule(rule); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.ID, err)
		}
		rs.Rules = append(rs.Rules, rule)
	}

	for i, spec := range file.Channels {
		channel, err := spec.toChannel()
		if err != nil {
			return nil, fmt.Errorf("channel %d (%s): %w", i, spec.ID, err)
		}
		rs.Channels = append(rs.Channels, channel)
	}

	for i, spec := range file.Suppressions {
		if spec.Field == "" {
			return nil, fmt.Errorf("suppression %d (%s): field is required", i, spec.ID)
		}
		rs.Suppressions = append(rs.Suppressions, SuppressionRule{
			ID:       spec.ID,
			Field:    spec.Field,
			Operator: spec.Operator,
			Value:    spec.Value,
		})
	}

	return rs, nil
}

func (spec ruleSpec) toRule() (AlertRule, error) {
	rule := AlertRule{
		ID:        spec.ID,
		Name:      spec.Name,
		Enabled:   spec.Enabled == nil || *spec.Enabled,
		Severity:  Severity(spec.Severity),
		Component: spec.Component,
		Operation: spec.Operation,
		Channels:  spec.Channels,
	}

	var err error
	if rule.Cooldown, err = parseDuration(spec.Cooldown, 0); err != nil {
		return AlertRule{}, fmt.Errorf("cooldown: %w", err)
	}

	for _, c := range spec.Conditions {
		window, err := parseDuration(c.TimeWindow, 0)
		if err != nil {
			return AlertRule{}, fmt.Errorf("condition %s time_window: %w", c.Metric, err)
		}
		rule.Conditions = append(rule.Conditions, AlertCondition{
			Metric:      c.Metric,
			Operator:    Operator(c.Operator),
			Threshold:   c.Threshold,
			TimeWindow:  window,
			Aggregation: Aggregation(c.Aggregation),
			Tags:        c.Tags,
		})
	}

	for _, l := range spec.Escalation {
		delay, err := parseDuration(l.Delay, 0)
		if err != nil {
			return AlertRule{}, fmt.Errorf("escalation delay: %w", err)
		}
		rule.Escalation = append(rule.Escalation, EscalationLevel{
			Delay:    delay,
			Channels: l.Channels,
			Severity: Severity(l.Severity),
		})
	}

	return rule, nil
}

func (spec channelSpec) toChannel() (ChannelConfig, error) {
	if spec.ID == "" {
		return ChannelConfig{}, fmt.Errorf("id is required")
	}
	if spec.Type == "" {
		return ChannelConfig{}, fmt.Errorf("type is required")
	}

	channel := ChannelConfig{
		ID:      spec.ID,
		Type:    spec.Type,
		Enabled: spec.Enabled == nil || *spec.Enabled,
		Config:  spec.Config,
	}

	for _, s := range spec.SeverityFilter {
		severity := Severity(s)
		if !validSeverity(severity) {
			return ChannelConfig{}, fmt.Errorf("unknown severity %q in filter", s)
		}
		channel.SeverityFilter = append(channel.SeverityFilter, severity)
	}

	if spec.RateLimit != nil {
		window, err := parseDuration(spec.RateLimit.Window, time.Minute)
		if err != nil {
			return ChannelConfig{}, fmt.Errorf("rate_limit window: %w", err)
		}
		channel.RateLimit = &RateLimit{
			MaxAlerts: spec.RateLimit.MaxAlerts,
			Window:    window,
		}
	}

	return channel, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// ValidateRule rejects rules the engine could never fire correctly.
// Unknown operators or aggregations are caught here at registration time;
// the evaluator additionally treats them as not-violated at runtime.
func ValidateRule(rule AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if rule.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !validSeverity(rule.Severity) {
		return fmt.Errorf("unknown severity %q", rule.Severity)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for i, cond := range rule.Conditions {
		if cond.Metric == "" {
			return fmt.Errorf("condition %d: metric is required", i)
		}
		if !validOperator(cond.Operator) {
			return fmt.Errorf("condition %d: unknown operator %q", i, cond.Operator)
		}
		if !validAggregation(cond.Aggregation) {
			return fmt.Errorf("condition %d: unknown aggregation %q", i, cond.Aggregation)
		}
		if cond.TimeWindow <= 0 {
			return fmt.Errorf("condition %d: time_window must be positive", i)
		}
	}
	for i, level := range rule.Escalation {
		if level.Delay <= 0 {
			return fmt.Errorf("escalation level %d: delay must be positive", i)
		}
		if len(level.Channels) == 0 {
			return fmt.Errorf("escalation level %d: channels are required", i)
		}
		if level.Severity != "" && !validSeverity(level.Severity) {
			return fmt.Errorf("escalation level %d: unknown severity %q", i, level.Severity)
		}
	}
	return nil
}

// ApplyRuleSet registers everything in the rule set on the engine, building
// a notifier for each channel with build. A nil build falls back to
// DefaultNotifierBuilder.
func (e *Engine) ApplyRuleSet(rs *RuleSet, build func(ChannelConfig) (Notifier, error)) error {
	if build == nil {
		build = DefaultNotifierBuilder()
	}

	for _, channel := range rs.Channels {
		notifier, err := build(channel)
		if err != nil {
			return fmt.Errorf("channel %s: %w", channel.ID, err)
		}
		e.RegisterChannel(channel, notifier)
	}
	for _, rule := range rs.Rules {
		if err := e.RegisterRule(rule); err != nil {
			return err
		}
	}
	for _, rule := range rs.Suppressions {
		e.AddSuppressionRule(rule)
	}
	return nil
}

// DefaultNotifierBuilder handles console and webhook channel types. Types
// needing external connections (redis) must be wired by the caller.
func DefaultNotifierBuilder() func(ChannelConfig) (Notifier, error) {
	return func(cfg ChannelConfig) (Notifier, error) {
		switch cfg.Type {
		case "console":
			return NewConsoleChannel(cfg.ID, os.Stdout), nil
		case "webhook":
			url := cfg.Config["url"]
			if url == "" {
				return nil, fmt.Errorf("webhook channel requires config.url")
			}
			return NewWebhookChannel(cfg.ID, url, 0), nil
		default:
			return nil, fmt.Errorf("unknown channel type %q", cfg.Type)
		}
	}
}
