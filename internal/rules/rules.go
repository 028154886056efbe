package rules

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"payment-failure-alerts/internal/config"
)

// Kind is the closed set of alert rule variants.
type Kind string

const (
	KindRapidFailures       Kind = "rapid_failures"
	KindGatewayDown         Kind = "gateway_down"
	KindHighValueFailure    Kind = "high_value_failure"
	KindElevatedFailureRate Kind = "elevated_failure_rate"
	KindGatewayDegradation  Kind = "gateway_degradation"
	KindUnusualErrorSpike   Kind = "unusual_error_spike"
)

// Severity tiers an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rule holds the validated thresholds for one rule kind. Which fields are
// meaningful depends on the kind; FromConfig rejects impossible values at
// load time.
type Rule struct {
	Kind            Kind
	Severity        Severity
	Enabled         bool
	Threshold       int
	ThresholdPct    float64
	ThresholdAmount decimal.Decimal
	Consecutive     int
	MinimumAttempts int
	Window          time.Duration
	Cooldown        time.Duration
}

// RuleSet is an immutable snapshot of rule configuration. Evaluations read a
// snapshot so a concurrent config reload cannot corrupt an in-flight pass.
type RuleSet struct {
	rules map[Kind]Rule
}

// Rule returns the rule for kind if present and enabled.
func (rs RuleSet) Rule(kind Kind) (Rule, bool) {
	rule, ok := rs.rules[kind]
	if !ok || !rule.Enabled {
		return Rule{}, false
	}
	return rule, true
}

// Kinds lists the kinds carried by the set, enabled or not.
func (rs RuleSet) Kinds() []Kind {
	kinds := make([]Kind, 0, len(rs.rules))
	for kind := range rs.rules {
		kinds = append(kinds, kind)
	}
	return kinds
}

// FromConfig materialises a RuleSet from the typed configuration sections.
// A rule with impossible values is disabled with a warning; the remaining
// rules stay active.
func FromConfig(cfg config.RulesConfig, logger zerolog.Logger) RuleSet {
	logger = logger.With().Str("component", "rules").Logger()

	set := RuleSet{rules: make(map[Kind]Rule, 6)}

	add := func(rule Rule, err error) {
		if err != nil {
			logger.Warn().Err(err).Str("rule", string(rule.Kind)).Msg("rule disabled: invalid configuration")
			rule.Enabled = false
		}
		set.rules[rule.Kind] = rule
	}

	add(countRule(KindRapidFailures, SeverityCritical, cfg.RapidFailures))
	add(countRule(KindGatewayDown, SeverityCritical, cfg.GatewayDown))
	add(amountRule(KindHighValueFailure, SeverityCritical, cfg.HighValueFailure))
	add(rateRule(KindElevatedFailureRate, SeverityWarning, cfg.ElevatedFailureRate))
	add(rateRule(KindGatewayDegradation, SeverityWarning, cfg.GatewayDegradation))
	add(countRule(KindUnusualErrorSpike, SeverityWarning, cfg.UnusualErrorSpike))

	return set
}

func countRule(kind Kind, severity Severity, cfg config.CountRuleConfig) (Rule, error) {
	rule := Rule{
		Kind:      kind,
		Severity:  severity,
		Enabled:   cfg.Enabled,
		Threshold: cfg.Threshold,
		Window:    cfg.Window,
		Cooldown:  cfg.Cooldown,
	}
	if !cfg.Enabled {
		return rule, nil
	}
	if cfg.Threshold <= 0 {
		return rule, fmt.Errorf("threshold must be positive, got %d", cfg.Threshold)
	}
	if cfg.Window <= 0 {
		return rule, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}
	if cfg.Cooldown < 0 {
		return rule, fmt.Errorf("cooldown cannot be negative, got %s", cfg.Cooldown)
	}
	return rule, nil
}

func amountRule(kind Kind, severity Severity, cfg config.AmountRuleConfig) (Rule, error) {
	rule := Rule{
		Kind:            kind,
		Severity:        severity,
		Enabled:         cfg.Enabled,
		ThresholdAmount: decimal.NewFromFloat(cfg.Amount),
		Consecutive:     cfg.Consecutive,
		Cooldown:        cfg.Cooldown,
	}
	if !cfg.Enabled {
		return rule, nil
	}
	if cfg.Amount <= 0 {
		return rule, fmt.Errorf("amount must be positive, got %v", cfg.Amount)
	}
	if cfg.Consecutive <= 0 {
		return rule, fmt.Errorf("consecutive must be positive, got %d", cfg.Consecutive)
	}
	if cfg.Cooldown < 0 {
		return rule, fmt.Errorf("cooldown cannot be negative, got %s", cfg.Cooldown)
	}
	return rule, nil
}

func rateRule(kind Kind, severity Severity, cfg config.RateRuleConfig) (Rule, error) {
	rule := Rule{
		Kind:            kind,
		Severity:        severity,
		Enabled:         cfg.Enabled,
		ThresholdPct:    cfg.ThresholdPct,
		MinimumAttempts: cfg.MinimumAttempts,
		Window:          cfg.Window,
		Cooldown:        cfg.Cooldown,
	}
	if !cfg.Enabled {
		return rule, nil
	}
	if cfg.ThresholdPct <= 0 || cfg.ThresholdPct > 100 {
		return rule, fmt.Errorf("threshold_pct must be in (0, 100], got %v", cfg.ThresholdPct)
	}
	if cfg.Window <= 0 {
		return rule, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}
	if cfg.MinimumAttempts < 0 {
		return rule, fmt.Errorf("minimum_attempts cannot be negative, got %d", cfg.MinimumAttempts)
	}
	if cfg.Cooldown < 0 {
		return rule, fmt.Errorf("cooldown cannot be negative, got %s", cfg.Cooldown)
	}
	return rule, nil
}
