package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Setenv("REFRESH_TTL_MINUTES", "")
	t.Setenv("REDIS_URL", "")

	cfg := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.RefreshTTL() != 15*time.Minute {
		t.Errorf("Expected 15m refresh TTL by default, got %v", cfg.RefreshTTL())
	}
	if cfg.GreeksCacheTTL() != time.Hour || cfg.LegTimeout() != 5*time.Second {
		t.Errorf("Unexpected greeks defaults %v / %v", cfg.GreeksCacheTTL(), cfg.LegTimeout())
	}
	if cfg.Redis.URL != "" || cfg.Pricing.DayCount != 252 || cfg.Screener.ExpiryCount != 2 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("REFRESH_TTL_MINUTES", "5")
	t.Setenv("GREEKS_DERIVE_VOL", "true")
	t.Setenv("DEFAULT_TICKERS", "PETR4, VALE3,,")

	cfg := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.RefreshTTL() != 5*time.Minute {
		t.Errorf("Expected env TTL 5m, got %v", cfg.RefreshTTL())
	}
	if !cfg.Greeks.DeriveVol {
		t.Errorf("Expected derive_vol from env")
	}
	if len(cfg.Screener.DefaultTickers) != 2 || cfg.Screener.DefaultTickers[1] != "VALE3" {
		t.Errorf("Unexpected tickers %v", cfg.Screener.DefaultTickers)
	}
}

func TestYAMLOverlay(t *testing.T) {
	t.Setenv("REFRESH_TTL_MINUTES", "5")
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
port: "9090"
refresh:
  ttl_minutes: 30
redis:
  url: redis://localhost:6379/0
screener:
  default_tickers: [BOVA11]
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := LoadFile(path)

	if cfg.Port != "9090" || cfg.RefreshTTL() != 30*time.Minute {
		t.Errorf("YAML should win, got port=%s ttl=%v", cfg.Port, cfg.RefreshTTL())
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" || cfg.Screener.DefaultTickers[0] != "BOVA11" {
		t.Errorf("Unexpected overlay %+v", cfg)
	}
	// keys absent from the file keep their defaults
	if cfg.Refresh.Granularity != "due_date" || cfg.Greeks.CacheTTLMinutes != 60 {
		t.Errorf("Absent keys should keep defaults, got %+v", cfg.Refresh)
	}
}

func TestMalformedYAMLIsIgnored(t *testing.T) {
	t.Setenv("REFRESH_TTL_MINUTES", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("refresh: [not a map"), 0o600)

	cfg := LoadFile(path)
	if cfg.Refresh.TTLMinutes != 15 {
		t.Errorf("Malformed file should be ignored, got %d", cfg.Refresh.TTLMinutes)
	}
}
