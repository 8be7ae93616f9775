package config

import (
	"os"
	"testing"
)

// Load refuses to start without a token and whitelist, so every test sets
// the minimum viable environment first.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("BOT_TOKEN", "123456:test-token")
	os.Setenv("ALLOWED_TELEGRAM_IDS", "100,200")
	t.Cleanup(func() {
		os.Unsetenv("BOT_TOKEN")
		os.Unsetenv("ALLOWED_TELEGRAM_IDS")
	})
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("DIGEST_TIME")
	os.Unsetenv("TZ_DEFAULT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.DigestHour != 9 || cfg.DigestMinute != 0 {
		t.Errorf("expected digest 09:00, got %02d:%02d", cfg.DigestHour, cfg.DigestMinute)
	}

	if cfg.DefaultTimezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %s", cfg.DefaultTimezone)
	}

	if len(cfg.AllowedIDs) != 2 || cfg.AllowedIDs[0] != 100 || cfg.AllowedIDs[1] != 200 {
		t.Errorf("expected allowed ids [100 200], got %v", cfg.AllowedIDs)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("DIGEST_TIME", "21:30")
	os.Setenv("TZ_DEFAULT", "Europe/Moscow")
	os.Setenv("SEND_RATE_PER_SEC", "10")
	defer func() {
		os.Unsetenv("DIGEST_TIME")
		os.Unsetenv("TZ_DEFAULT")
		os.Unsetenv("SEND_RATE_PER_SEC")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.DigestHour != 21 || cfg.DigestMinute != 30 {
		t.Errorf("expected digest 21:30, got %02d:%02d", cfg.DigestHour, cfg.DigestMinute)
	}

	if cfg.DefaultTimezone != "Europe/Moscow" {
		t.Errorf("expected timezone Europe/Moscow, got %s", cfg.DefaultTimezone)
	}

	if cfg.SendRatePerSec != 10 {
		t.Errorf("expected send rate 10, got %v", cfg.SendRatePerSec)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	os.Unsetenv("BOT_TOKEN")
	os.Setenv("ALLOWED_TELEGRAM_IDS", "100")
	defer os.Unsetenv("ALLOWED_TELEGRAM_IDS")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing BOT_TOKEN, got nil")
	}
}

func TestLoad_MissingWhitelist(t *testing.T) {
	os.Setenv("BOT_TOKEN", "123456:test-token")
	os.Unsetenv("ALLOWED_TELEGRAM_IDS")
	defer os.Unsetenv("BOT_TOKEN")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing ALLOWED_TELEGRAM_IDS, got nil")
	}
}

func TestLoad_DigestTimeOutOfRange(t *testing.T) {
	setRequiredEnv(t)

	for _, raw := range []string{"24:00", "09:60", "-1:15", "0900", "nine"} {
		os.Setenv("DIGEST_TIME", raw)
		if _, err := Load(); err == nil {
			t.Errorf("DIGEST_TIME %q: expected error, got nil", raw)
		}
	}
	os.Unsetenv("DIGEST_TIME")
}

func TestLoad_BadTimezone(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("TZ_DEFAULT", "Mars/Olympus")
	defer os.Unsetenv("TZ_DEFAULT")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown TZ_DEFAULT, got nil")
	}
}

func TestParseAllowedIDs(t *testing.T) {
	ids, err := parseAllowedIDs(" 42, 777 ,  ,1001")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(ids) != 3 || ids[0] != 42 || ids[1] != 777 || ids[2] != 1001 {
		t.Errorf("unexpected ids: %v", ids)
	}

	if _, err := parseAllowedIDs("42,abc"); err == nil {
		t.Error("expected error for non-numeric id, got nil")
	}
}
