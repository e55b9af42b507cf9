package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nyashahama/clinical-risk-backend/internal/config"
)

// clearEnv blanks every key Load reads so the host environment cannot leak
// into a test. t.Setenv restores the old values afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "ENV", "BASE_URL", "API_KEY", "DATABASE_URL", "REDIS_URL", "CACHE_TTL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL", "ANTHROPIC_API_KEY",
		"ANTHROPIC_MODEL", "RESEND_API_KEY", "EMAIL_FROM_ADDR", "EMAIL_FROM_NAME",
		"WORKER_COUNT", "POLL_INTERVAL", "JOB_TIMEOUT", "MAX_RETRIES",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/clinic")
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	c, err := config.LoadFiles()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "8080" || c.Env != "development" {
		t.Errorf("server defaults: %+v", c)
	}
	if c.CacheTTL != 24*time.Hour {
		t.Errorf("cache ttl: %s", c.CacheTTL)
	}
	if c.WorkerCount != 3 || c.MaxRetries != 3 || c.PollInterval != 30*time.Second {
		t.Errorf("worker defaults: %+v", c)
	}
	if c.OpenAIBaseURL != "https://api.openai.com/v1" {
		t.Errorf("openai base url: %q", c.OpenAIBaseURL)
	}
}

func TestLoad_MissingRequiredJoinsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV", "production")

	_, err := config.LoadFiles()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"DATABASE_URL", "RESEND_API_KEY", "API_KEY must be set", "OPENAI_API_KEY or ANTHROPIC_API_KEY"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestLoad_DurationForms(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/clinic")
	t.Setenv("RESEND_API_KEY", "re_test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("POLL_INTERVAL", "45")
	t.Setenv("JOB_TIMEOUT", "2m")
	t.Setenv("CACHE_TTL", "garbage")

	c, err := config.LoadFiles()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.PollInterval != 45*time.Second {
		t.Errorf("integer seconds: %s", c.PollInterval)
	}
	if c.JobTimeout != 2*time.Minute {
		t.Errorf("duration syntax: %s", c.JobTimeout)
	}
	if c.CacheTTL != 24*time.Hour {
		t.Errorf("unparseable falls back to default: %s", c.CacheTTL)
	}
}

func TestLoad_DotEnvDoesNotOverrideRealEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "DATABASE_URL=postgres://from-file/clinic\nRESEND_API_KEY=re_file\nOPENAI_API_KEY=\"sk-file\"\nPORT=9999\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")
	t.Cleanup(func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("RESEND_API_KEY")
		os.Unsetenv("OPENAI_API_KEY")
	})

	c, err := config.LoadFiles(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Port != "7000" {
		t.Errorf("real env must win, got port %q", c.Port)
	}
	if c.DatabaseURL != "postgres://from-file/clinic" || c.OpenAIAPIKey != "sk-file" {
		t.Errorf("file values not loaded: %+v", c)
	}
}

func TestLoadModelOnly_IgnoresServerKeys(t *testing.T) {
	clearEnv(t)

	if _, err := config.LoadModelOnly(); err == nil {
		t.Fatal("expected error without any provider key")
	}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	c, err := config.LoadModelOnly()
	if err != nil {
		t.Fatalf("LoadModelOnly: %v", err)
	}
	if c.DatabaseURL != "" || c.AnthropicModel != "claude-sonnet-4-5" {
		t.Errorf("config: %+v", c)
	}
}
