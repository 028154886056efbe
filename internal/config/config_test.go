package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("server.addr = %s", cfg.Server.Addr)
	}
	if cfg.Retention.Days != 90 {
		t.Fatalf("retention.days = %d", cfg.Retention.Days)
	}
	if cfg.Redis.Retention != 48*time.Hour {
		t.Fatalf("redis.retention = %s", cfg.Redis.Retention)
	}
	if cfg.Analytics.MovingAverageWindow != 3 {
		t.Fatalf("moving_average_window = %d", cfg.Analytics.MovingAverageWindow)
	}

	rapid := cfg.Alerting.Rules.RapidFailures
	if !rapid.Enabled || rapid.Threshold != 5 || rapid.Window != 10*time.Minute || rapid.Cooldown != 30*time.Minute {
		t.Fatalf("rapid_failures 默认值不正确: %+v", rapid)
	}
	elevated := cfg.Alerting.Rules.ElevatedFailureRate
	if elevated.ThresholdPct != 15 || elevated.MinimumAttempts != 10 || elevated.Window != time.Hour {
		t.Fatalf("elevated_failure_rate 默认值不正确: %+v", elevated)
	}
	highValue := cfg.Alerting.Rules.HighValueFailure
	if highValue.Amount != 500 || highValue.Consecutive != 2 {
		t.Fatalf("high_value_failure 默认值不正确: %+v", highValue)
	}
	if !cfg.Alerting.Rules.Maintenance.Enabled {
		t.Fatal("daily_summary 默认应启用")
	}
}

func TestValidateWebhookURL(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}

	cfg.Alerting.Webhook.Enabled = true
	cfg.Alerting.Webhook.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("启用 webhook 但缺少 url 应报错")
	}

	cfg.Alerting.Webhook.URL = "https://alerts.example.com/hook"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("配置完整时 Validate 应通过: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load 应成功: %v", err)
	}

	cfg.Retention.Days = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("retention.days = 0 应报错")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("默认值应为 500, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(42); got != 42 {
		t.Fatalf("覆盖值应为 42, 实际 %d", got)
	}
}
