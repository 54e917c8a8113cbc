package config

import (
	"os"
	"path/filepath"
	"testing"
)

const fixtureTOML = `
topic = "orders"
subscription_name = "orders-sub"
subscription_type = "Key_Shared"
processing_guarantee = "EffectivelyOnce"
dispatch_throttling_on_non_backlog_consumer_enabled = true
max_unacked_messages_per_subscription = 5000
read_batch_size = 50

[rate_limit]
enabled = true
messages_per_period = 1000
bytes_per_period = 1048576
period_millis = 1000

[transport]
address = "pulsar.internal:6650"
tls_enabled = true

[log]
level = "debug"
file_path = "/var/log/dispatcher.log"
`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatcher.toml")
	if err := os.WriteFile(path, []byte(fixtureTOML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	path := writeFixture(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Topic != "orders" || cfg.SubscriptionName != "orders-sub" {
		t.Fatalf("unexpected topic/subscription: %+v", cfg)
	}
	if cfg.ProcessingGuarantee != string(EffectivelyOnce) {
		t.Fatalf("ProcessingGuarantee = %q, want EffectivelyOnce", cfg.ProcessingGuarantee)
	}
	if !cfg.DispatchThrottlingOnNonBacklogConsumerEnabled {
		t.Fatal("expected throttling flag to be true")
	}
	if cfg.MaxUnackedMessagesPerSubscription != 5000 {
		t.Fatalf("MaxUnackedMessagesPerSubscription = %d, want 5000", cfg.MaxUnackedMessagesPerSubscription)
	}
	if cfg.ReadBatchSize != 50 {
		t.Fatalf("ReadBatchSize = %d, want 50", cfg.ReadBatchSize)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.MessagesPerPeriod != 1000 {
		t.Fatalf("unexpected rate limit config: %+v", cfg.RateLimit)
	}
	if cfg.Transport.Address != "pulsar.internal:6650" || !cfg.Transport.TLSEnabled {
		t.Fatalf("unexpected transport config: %+v", cfg.Transport)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.SubscriptionType != "Key_Shared" {
		t.Fatalf("default SubscriptionType = %q", cfg.SubscriptionType)
	}
	if cfg.ProcessingGuarantee != string(AtLeastOnce) {
		t.Fatalf("default ProcessingGuarantee = %q", cfg.ProcessingGuarantee)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownGuarantee(t *testing.T) {
	cfg := Default()
	cfg.ProcessingGuarantee = "Exactly42"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown processing guarantee")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error loading a nonexistent file")
	}
}
