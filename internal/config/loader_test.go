package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxdesk/voxdesk/internal/config"
)

func TestValidate_TelephonyRequiresAuthToken(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  public_url: https://vox.example.com
telephony:
  enabled: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for enabled telephony without auth_token, got nil")
	}
	if !strings.Contains(err.Error(), "auth_token") {
		t.Errorf("error should mention auth_token, got: %v", err)
	}
}

func TestValidate_TelephonyRequiresPublicURL(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  enabled: true
  auth_token: tw-secret
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for enabled telephony without public_url, got nil")
	}
	if !strings.Contains(err.Error(), "public_url") {
		t.Errorf("error should mention public_url, got: %v", err)
	}
}

func TestValidate_TelephonyDisabledNeedsNoToken(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":8080"
providers:
  llm:
    name: openai
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: chatty
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_RelativePublicURL(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  public_url: vox.example.com/api
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for relative public_url, got nil")
	}
}

func TestValidate_PremiumVoiceRequiresSynthesizer(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  public_url: https://vox.example.com
telephony:
  enabled: true
  auth_token: tw-secret
  premium_voice: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for premium_voice without any synthesizer, got nil")
	}
	if !strings.Contains(err.Error(), "premium_voice") {
		t.Errorf("error should mention premium_voice, got: %v", err)
	}
}

func TestValidate_NegativeReplyLimit(t *testing.T) {
	t.Parallel()
	yaml := `
demo:
  reply_limit: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative reply_limit, got nil")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: chatty
telephony:
  enabled: true
demo:
  reply_limit: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	for _, want := range []string{"log_level", "auth_token", "reply_limit"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxdesk.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}

func TestLoadFromReader_ExpandsEnvVars(t *testing.T) {
	t.Setenv("VOXDESK_TEST_KEY", "secret-from-env")
	yaml := `
providers:
  llm:
    name: gemini
    model: gemini-flash-latest
    api_key: "${VOXDESK_TEST_KEY}"
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Providers.LLM.APIKey; got != "secret-from-env" {
		t.Errorf("APIKey = %q, want %q", got, "secret-from-env")
	}
}
