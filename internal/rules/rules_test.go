package rules

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"payment-failure-alerts/internal/config"
)

func defaultRulesConfig() config.RulesConfig {
	return config.RulesConfig{
		RapidFailures:       config.CountRuleConfig{Enabled: true, Threshold: 5, Window: 10 * time.Minute, Cooldown: 30 * time.Minute},
		GatewayDown:         config.CountRuleConfig{Enabled: true, Threshold: 3, Window: 5 * time.Minute, Cooldown: 30 * time.Minute},
		HighValueFailure:    config.AmountRuleConfig{Enabled: true, Amount: 500, Consecutive: 2, Cooldown: 30 * time.Minute},
		ElevatedFailureRate: config.RateRuleConfig{Enabled: true, ThresholdPct: 15, Window: time.Hour, MinimumAttempts: 10, Cooldown: time.Hour},
		GatewayDegradation:  config.RateRuleConfig{Enabled: true, ThresholdPct: 25, Window: 30 * time.Minute, MinimumAttempts: 5, Cooldown: 30 * time.Minute},
		UnusualErrorSpike:   config.CountRuleConfig{Enabled: true, Threshold: 3, Window: 30 * time.Minute, Cooldown: 30 * time.Minute},
	}
}

func TestFromConfigAllEnabled(t *testing.T) {
	set := FromConfig(defaultRulesConfig(), zerolog.Nop())

	kinds := []Kind{
		KindRapidFailures,
		KindGatewayDown,
		KindHighValueFailure,
		KindElevatedFailureRate,
		KindGatewayDegradation,
		KindUnusualErrorSpike,
	}
	for _, kind := range kinds {
		if _, ok := set.Rule(kind); !ok {
			t.Fatalf("rule %s should be enabled", kind)
		}
	}

	rapid, _ := set.Rule(KindRapidFailures)
	if rapid.Severity != SeverityCritical || rapid.Threshold != 5 {
		t.Fatalf("unexpected rapid_failures rule: %+v", rapid)
	}
	elevated, _ := set.Rule(KindElevatedFailureRate)
	if elevated.Severity != SeverityWarning || elevated.ThresholdPct != 15 {
		t.Fatalf("unexpected elevated_failure_rate rule: %+v", elevated)
	}
}

func TestFromConfigInvalidRuleDisabled(t *testing.T) {
	cfg := defaultRulesConfig()
	cfg.RapidFailures.Threshold = 0
	cfg.ElevatedFailureRate.ThresholdPct = 150

	set := FromConfig(cfg, zerolog.Nop())

	if _, ok := set.Rule(KindRapidFailures); ok {
		t.Fatal("rapid_failures with zero threshold should be disabled")
	}
	if _, ok := set.Rule(KindElevatedFailureRate); ok {
		t.Fatal("elevated_failure_rate above 100% should be disabled")
	}
	if _, ok := set.Rule(KindGatewayDown); !ok {
		t.Fatal("other rules must stay active")
	}
	if len(set.Kinds()) != 6 {
		t.Fatalf("all kinds should be carried, got %d", len(set.Kinds()))
	}
}

func TestFromConfigDisabledRuleSkipsValidation(t *testing.T) {
	cfg := config.RulesConfig{}

	set := FromConfig(cfg, zerolog.Nop())
	for _, kind := range set.Kinds() {
		if _, ok := set.Rule(kind); ok {
			t.Fatalf("rule %s should be disabled by zero config", kind)
		}
	}
}
