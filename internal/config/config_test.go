package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "KOMMO_MAX_RETRIES", "KOMMO_RETRY_BASE_DELAY_MS",
		"KOMMO_RETRY_MAX_DELAY_MS", "KOMMO_ENFORCE_SIGNATURE", "WEBHOOK_EVENT_CONCURRENCY", "VAT_RATE",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.KommoMaxRetries != 4 {
		t.Fatalf("expected 4 retries, got %d", cfg.KommoMaxRetries)
	}
	if cfg.KommoRetryBaseDelay != 500*time.Millisecond {
		t.Fatalf("expected 500ms base delay, got %s", cfg.KommoRetryBaseDelay)
	}
	if cfg.KommoRetryMaxDelay != 5*time.Second {
		t.Fatalf("expected 5s max delay, got %s", cfg.KommoRetryMaxDelay)
	}
	if cfg.KommoEnforceSignature {
		t.Fatalf("expected signature enforcement disabled by default")
	}
	if cfg.WebhookEventConcurrency != 1 {
		t.Fatalf("expected sequential event processing by default, got %d", cfg.WebhookEventConcurrency)
	}
	if cfg.VATRate != 0.05 {
		t.Fatalf("expected 5%% VAT, got %v", cfg.VATRate)
	}
	if cfg.WebhookPipelineTimeout != 10*time.Minute {
		t.Fatalf("expected 10m pipeline budget, got %s", cfg.WebhookPipelineTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("KOMMO_BASE_URL", "https://acme.kommo.com/")
	t.Setenv("KOMMO_ENFORCE_SIGNATURE", "true")
	t.Setenv("KOMMO_VEHICLE_FIELD_ID", "991122")
	t.Setenv("KOMMO_DRIVE_URL", "https://drive-b.kommo.com/")
	t.Setenv("DOCUMENT_SYNC_CONCURRENCY", "8")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.KommoBaseURL != "https://acme.kommo.com" {
		t.Fatalf("expected trimmed base url, got %s", cfg.KommoBaseURL)
	}
	if !cfg.KommoEnforceSignature {
		t.Fatalf("expected signature enforcement enabled")
	}
	if cfg.VehicleFieldID != 991122 {
		t.Fatalf("expected vehicle field override, got %d", cfg.VehicleFieldID)
	}
	if cfg.KommoDriveURL != "https://drive-b.kommo.com" {
		t.Fatalf("expected trimmed drive url, got %s", cfg.KommoDriveURL)
	}
	if cfg.DocumentSyncConcurrency != 8 {
		t.Fatalf("expected concurrency override, got %d", cfg.DocumentSyncConcurrency)
	}
}

func TestLoadAppliesRetryFloors(t *testing.T) {
	t.Setenv("KOMMO_MAX_RETRIES", "0")
	t.Setenv("KOMMO_RETRY_BASE_DELAY_MS", "10")
	t.Setenv("KOMMO_RETRY_MAX_DELAY_MS", "50")
	t.Setenv("WEBHOOK_EVENT_CONCURRENCY", "-3")
	cfg := Load()
	if cfg.KommoMaxRetries != 1 {
		t.Fatalf("expected retries floored to 1, got %d", cfg.KommoMaxRetries)
	}
	if cfg.KommoRetryBaseDelay != 100*time.Millisecond {
		t.Fatalf("expected base delay floored to 100ms, got %s", cfg.KommoRetryBaseDelay)
	}
	if cfg.KommoRetryMaxDelay != cfg.KommoRetryBaseDelay {
		t.Fatalf("expected max delay floored to base, got %s", cfg.KommoRetryMaxDelay)
	}
	if cfg.WebhookEventConcurrency != 1 {
		t.Fatalf("expected concurrency floored to 1, got %d", cfg.WebhookEventConcurrency)
	}
}
