// services/anti-cheat/internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8085" {
		t.Errorf("Port = %s, want 8085", cfg.Port)
	}
	if cfg.BanSweepInterval != time.Minute {
		t.Errorf("BanSweepInterval = %s, want 1m", cfg.BanSweepInterval)
	}
	if cfg.Detection.MaxBattlesPerDay != 5 || cfg.Moderation.LabelThreshold != 0.5 {
		t.Errorf("thresholds = %+v / %+v, want defaults", cfg.Detection, cfg.Moderation)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want none", cfg.KafkaBrokers)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anti-cheat.yaml")
	body := `
port: "9000"
ban_sweep_interval: 30s
kafka_topics:
  fraud.detected: fraud-events
detection:
  max_battles_per_day: 3
moderation:
  hate_terms: ["slur"]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"env overrides file", cfg.Port, "9100"},
		{"file duration", cfg.BanSweepInterval, 30 * time.Second},
		{"file threshold", cfg.Detection.MaxBattlesPerDay, 3},
		{"unset threshold keeps default", cfg.Detection.ActionsPerHour, 120},
		{"file terms", len(cfg.Moderation.HateTerms), 1},
		{"topic mapping", cfg.KafkaTopics["fraud.detected"], "fraud-events"},
		{"brokers", len(cfg.KafkaBrokers), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"BAN_SWEEP_INTERVAL": "soon"}},
		{"bad int", map[string]string{"RATE_LIMIT_PER_MINUTE": "many"}},
		{"non-positive limit", map[string]string{"RATE_LIMIT_PER_MINUTE": "-1"}},
		{"production without secret", map[string]string{"ENVIRONMENT": "production"}},
		{"missing file", map[string]string{"CONFIG_FILE": "/nonexistent/anti-cheat.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}
