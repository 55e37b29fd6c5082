package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsAndValidation(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when pollux_key is unset")
	}

	os.Setenv("POLLUX_KEY", "test-key")
	defer os.Unsetenv("POLLUX_KEY")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 8188 {
		t.Fatalf("expected default port 8188, got %d", cfg.ListenPort)
	}
	if cfg.NoCredentialStatus != 503 {
		t.Fatalf("expected default NoCredentialStatus 503, got %d", cfg.NoCredentialStatus)
	}
}

func TestLoadTOMLOverlaidByEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pollux.toml")
	content := `
listen_port = 9000
pollux_key = "from-toml"
big_model_list = ["gemini-2.5-pro"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write toml: %v", err)
	}

	os.Setenv("LISTEN_PORT", "9100")
	defer os.Unsetenv("LISTEN_PORT")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PolluxKey != "from-toml" {
		t.Fatalf("expected pollux_key from toml, got %q", cfg.PolluxKey)
	}
	if cfg.ListenPort != 9100 {
		t.Fatalf("expected env override to win: got %d", cfg.ListenPort)
	}
	if !cfg.IsBigModel("gemini-2.5-pro") {
		t.Fatalf("expected gemini-2.5-pro to be a big model")
	}
}

func TestLoadRejectsBadNoCredentialStatus(t *testing.T) {
	os.Setenv("POLLUX_KEY", "k")
	os.Setenv("NO_CREDENTIAL_STATUS", "500")
	defer os.Unsetenv("POLLUX_KEY")
	defer os.Unsetenv("NO_CREDENTIAL_STATUS")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid no_credential_status")
	}
}
