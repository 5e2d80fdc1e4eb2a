package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropgate")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != "0.0.0.0:2222" {
		t.Errorf("listen = %q", cfg.ListenAddr())
	}
	if cfg.AdvertisedHost() != "0.0.0.0" {
		t.Errorf("advertised host = %q", cfg.AdvertisedHost())
	}
	if cfg.WebhookInsecureTLS {
		t.Error("insecure TLS must default off")
	}
	if cfg.WebhookTimeout != 30*time.Second {
		t.Errorf("webhook timeout = %v", cfg.WebhookTimeout)
	}
	if !cfg.IncludeClientKeypair {
		t.Error("client keypair inclusion must default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropgate")
	t.Setenv("SFTP_HOST", "10.0.0.5")
	t.Setenv("SFTP_PORT", "2022")
	t.Setenv("SFTP_PUBLIC_HOST", "drop.example.com")
	t.Setenv("SFTP_WEBHOOK_INSECURE_TLS", "true")
	t.Setenv("SFTP_WEBHOOK_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != "10.0.0.5:2022" {
		t.Errorf("listen = %q", cfg.ListenAddr())
	}
	if cfg.AdvertisedHost() != "drop.example.com" {
		t.Errorf("advertised host = %q", cfg.AdvertisedHost())
	}
	if !cfg.WebhookInsecureTLS {
		t.Error("insecure TLS not read")
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Errorf("webhook timeout = %v", cfg.WebhookTimeout)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dropgate")
	t.Setenv("SFTP_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}
