package alerting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/instantcocoa/pulse/pkg/testutil"
)

const validRules = `
rules:
  - id: checkout-errors
    name: Checkout error rate
    severity: high
    component: checkout
    operation: charge
    channels: [console, pager]
    cooldown: 10m
    conditions:
      - metric: checkout.errors
        operator: gt
        threshold: 5
        time_window: 5m
        aggregation: sum
        tags:
          region: us-east
    escalation:
      - delay: 15m
        channels: [pager]
        severity: critical
  - id: slow-queries
    name: Slow database queries
    enabled: false
    severity: medium
    conditions:
      - metric: db.query.duration
        operator: gte
        threshold: 500
        time_window: 1m
        aggregation: avg

channels:
  - id: console
    type: console
  - id: pager
    type: webhook
    config:
      url: https://hooks.example.com/pager
    severity_filter: [high, critical]
    rate_limit:
      max_alerts: 5
      window: 10m

suppressions:
  - id: mute-staging
    field: component
    operator: prefix
    value: staging
`

func TestParseRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v", err)
	}

	if len(rs.Rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(rs.Rules))
	}

	rule := rs.Rules[0]
	if rule.ID != "checkout-errors" || rule.Name != "Checkout error rate" {
		t.Errorf("rule = %+v", rule)
	}
	if !rule.Enabled {
		t.Error("Enabled = false, want true by default")
	}
	if rule.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want high", rule.Severity)
	}
	if rule.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown = %v, want 10m", rule.Cooldown)
	}
	if len(rule.Channels) != 2 {
		t.Errorf("Channels = %v, want 2", rule.Channels)
	}

	if len(rule.Conditions) != 1 {
		t.Fatalf("got %d conditions, want 1", len(rule.Conditions))
	}
	cond := rule.Conditions[0]
	if cond.Metric != "checkout.errors" || cond.Operator != OpGreaterThan {
		t.Errorf("condition = %+v", cond)
	}
	if cond.Threshold != 5 || cond.TimeWindow != 5*time.Minute || cond.Aggregation != AggSum {
		t.Errorf("condition = %+v", cond)
	}
	if cond.Tags["region"] != "us-east" {
		t.Errorf("Tags = %v, want region=us-east", cond.Tags)
	}

	if len(rule.Escalation) != 1 {
		t.Fatalf("got %d escalation levels, want 1", len(rule.Escalation))
	}
	level := rule.Escalation[0]
	if level.Delay != 15*time.Minute || level.Severity != SeverityCritical {
		t.Errorf("escalation = %+v", level)
	}

	if rs.Rules[1].Enabled {
		t.Error("explicit enabled: false parsed as true")
	}

	if len(rs.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(rs.Channels))
	}
	pager := rs.Channels[1]
	if pager.Type != "webhook" || pager.Config["url"] != "https://hooks.example.com/pager" {
		t.Errorf("pager channel = %+v", pager)
	}
	if len(pager.SeverityFilter) != 2 {
		t.Errorf("SeverityFilter = %v, want 2 entries", pager.SeverityFilter)
	}
	if pager.RateLimit == nil || pager.RateLimit.MaxAlerts != 5 || pager.RateLimit.Window != 10*time.Minute {
		t.Errorf("RateLimit = %+v", pager.RateLimit)
	}

	if len(rs.Suppressions) != 1 || rs.Suppressions[0].Field != "component" {
		t.Errorf("Suppressions = %+v", rs.Suppressions)
	}
}

func TestParseRuleSet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"malformed yaml",
			"rules: [",
			"failed to parse",
		},
		{
			"bad cooldown",
			"rules:\n  - id: r1\n    name: R1\n    severity: low\n    cooldown: soon\n    conditions:\n      - {metric: m, operator: gt, threshold: 1, time_window: 1m, aggregation: sum}",
			"cooldown",
		},
		{
			"bad time window",
			"rules:\n  - id: r1\n    name: R1\n    severity: low\n    conditions:\n      - {metric: m, operator: gt, threshold: 1, time_window: tomorrow, aggregation: sum}",
			"time_window",
		},
		{
			"unknown severity",
			"rules:\n  - id: r1\n    name: R1\n    severity: urgent\n    conditions:\n      - {metric: m, operator: gt, threshold: 1, time_window: 1m, aggregation: sum}",
			"unknown severity",
		},
		{
			"channel missing id",
			"channels:\n  - type: console",
			"id is required",
		},
		{
			"channel missing type",
			"channels:\n  - id: c1",
			"type is required",
		},
		{
			"bad filter severity",
			"channels:\n  - id: c1\n    type: console\n    severity_filter: [loud]",
			"unknown severity",
		},
		{
			"suppression missing field",
			"suppressions:\n  - id: s1\n    value: x",
			"field is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleSet([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParseRuleSet() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRuleSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(validRules), 0o644); err != nil {
		t.Fatal(err)
	}

	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet() error = %v", err)
	}
	if len(rs.Rules) != 2 || len(rs.Channels) != 2 {
		t.Errorf("got %d rules, %d channels; want 2, 2", len(rs.Rules), len(rs.Channels))
	}
}

func TestLoadRuleSet_Missing(t *testing.T) {
	if _, err := LoadRuleSet(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadRuleSet() succeeded for missing file, want error")
	}
}

func TestValidateRule(t *testing.T) {
	valid := testRule("r1")

	tests := []struct {
		name   string
		mutate func(*AlertRule)
	}{
		{"missing id", func(r *AlertRule) { r.ID = "" }},
		{"missing name", func(r *AlertRule) { r.Name = "" }},
		{"bad severity", func(r *AlertRule) { r.Severity = "urgent" }},
		{"no conditions", func(r *AlertRule) { r.Conditions = nil }},
		{"condition missing metric", func(r *AlertRule) { r.Conditions[0].Metric = "" }},
		{"condition bad operator", func(r *AlertRule) { r.Conditions[0].Operator = "ne" }},
		{"condition bad aggregation", func(r *AlertRule) { r.Conditions[0].Aggregation = "median" }},
		{"condition zero window", func(r *AlertRule) { r.Conditions[0].TimeWindow = 0 }},
		{"escalation zero delay", func(r *AlertRule) {
			r.Escalation = []EscalationLevel{{Channels: []string{"c"}}}
		}},
		{"escalation no channels", func(r *AlertRule) {
			r.Escalation = []EscalationLevel{{Delay: time.Minute}}
		}},
		{"escalation bad severity", func(r *AlertRule) {
			r.Escalation = []EscalationLevel{{Delay: time.Minute, Channels: []string{"c"}, Severity: "urgent"}}
		}},
	}

	if err := ValidateRule(valid); err != nil {
		t.Fatalf("ValidateRule(valid) error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := testRule("r1")
			rule.Conditions = append([]AlertCondition(nil), rule.Conditions...)
			tt.mutate(&rule)
			if err := ValidateRule(rule); err == nil {
				t.Error("ValidateRule() succeeded, want error")
			}
		})
	}
}

func TestApplyRuleSet(t *testing.T) {
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("ParseRuleSet() error = %v", err)
	}

	e := newTestEngine(newFakeSource(), Config{})
	if err := e.ApplyRuleSet(rs, nil); err != nil {
		t.Fatalf("ApplyRuleSet() error = %v", err)
	}

	// Registered rules are live: firing one by id must succeed.
	if _, err := e.CreateAlert("checkout-errors", "checkout.errors", 9, 5); err != nil {
		t.Errorf("CreateAlert() error = %v", err)
	}
}

func TestApplyRuleSet_CustomBuilder(t *testing.T) {
	rs := &RuleSet{
		Channels: []ChannelConfig{{ID: "custom", Type: "redis", Enabled: true}},
	}

	notifier := &captureNotifier{}
	var built []string
	err := New(Config{}, nil, testutil.DiscardLogger()).ApplyRuleSet(rs, func(cfg ChannelConfig) (Notifier, error) {
		built = append(built, cfg.ID)
		return notifier, nil
	})
	if err != nil {
		t.Fatalf("ApplyRuleSet() error = %v", err)
	}
	if len(built) != 1 || built[0] != "custom" {
		t.Errorf("builder saw %v, want [custom]", built)
	}
}

func TestDefaultNotifierBuilder(t *testing.T) {
	build := DefaultNotifierBuilder()

	if _, err := build(ChannelConfig{ID: "c", Type: "console"}); err != nil {
		t.Errorf("console: %v", err)
	}
	if _, err := build(ChannelConfig{
		ID:     "w",
		Type:   "webhook",
		Config: map[string]string{"url": "https://hooks.example.com"},
	}); err != nil {
		t.Errorf("webhook: %v", err)
	}
	if _, err := build(ChannelConfig{ID: "w", Type: "webhook"}); err == nil {
		t.Error("webhook without url succeeded, want error")
	}
	if _, err := build(ChannelConfig{ID: "r", Type: "redis"}); err == nil {
		t.Error("redis type succeeded in default builder, want error")
	}
}
