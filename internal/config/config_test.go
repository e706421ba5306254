package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("VIGIL_ENV", "")
	t.Setenv("VIGIL_CAMERA_URL", "http://10.0.0.5")

	cfg := FromEnv()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.Env != "dev" {
		t.Errorf("expected dev, got %q", cfg.Env)
	}
	if cfg.Camera.MaxRetries != 3 || cfg.Camera.RetryDelay != 3*time.Second || cfg.Camera.RequestTimeout != 30*time.Second {
		t.Errorf("unexpected camera defaults %+v", cfg.Camera)
	}
	if cfg.Credentials.TTL != 10*time.Minute {
		t.Errorf("expected 10m ttl, got %s", cfg.Credentials.TTL)
	}
	if !cfg.Credentials.Expose {
		t.Error("expected code listing exposed in dev")
	}
	if cfg.Trigger.RunTimeout != time.Minute {
		t.Errorf("expected 60s run timeout, got %s", cfg.Trigger.RunTimeout)
	}
	if cfg.Mailbox.Capacity != 10 {
		t.Errorf("expected mailbox capacity 10, got %d", cfg.Mailbox.Capacity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_ENV", "PROD")
	t.Setenv("VIGIL_CAMERA_URL", "http://cam")
	t.Setenv("VIGIL_CODE_TTL", "0s")
	t.Setenv("VIGIL_EXPOSE_CODES", "true")
	t.Setenv("VIGIL_MAIL_TO", "a@example.com, b@example.com")
	t.Setenv("VIGIL_CAMERA_RETRY_DELAY", "not-a-duration")

	cfg := FromEnv()
	if cfg.Env != "prod" {
		t.Errorf("expected prod, got %q", cfg.Env)
	}
	if cfg.Credentials.TTL != 0 {
		t.Errorf("expected ttl disabled, got %s", cfg.Credentials.TTL)
	}
	if cfg.Credentials.Expose {
		t.Error("code listing must stay off in prod")
	}
	if len(cfg.Mail.To) != 2 || cfg.Mail.To[1] != "b@example.com" {
		t.Errorf("unexpected recipients %v", cfg.Mail.To)
	}
	if cfg.Camera.RetryDelay != 3*time.Second {
		t.Errorf("bad duration should fall back to default, got %s", cfg.Camera.RetryDelay)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	data := `
http_addr: ":9090"
camera:
  base_url: http://192.168.1.50
  retry_delay: 500ms
mail:
  host: smtp.example.com
  to: [owner@example.com]
credentials:
  ttl: 2m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	base := Config{Env: "dev", DBPath: "./from-env.db", Face: FaceConfig{CascadePath: "./cascade"}}
	cfg, err := Load(path, base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "./from-env.db" {
		t.Errorf("expected base db path kept, got %q", cfg.DBPath)
	}
	if cfg.Camera.RetryDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms retry delay, got %s", cfg.Camera.RetryDelay)
	}
	if cfg.Camera.MaxRetries != 3 {
		t.Errorf("expected default retries, got %d", cfg.Camera.MaxRetries)
	}
	if cfg.Credentials.TTL != 2*time.Minute {
		t.Errorf("expected 2m ttl, got %s", cfg.Credentials.TTL)
	}
	if got := cfg.Mail.Notifier(); got.Host != "smtp.example.com" || len(got.To) != 1 {
		t.Errorf("unexpected notifier config %+v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing camera":   "env: dev\n",
		"bad store":        "store: redis\ncamera: {base_url: http://cam}\n",
		"mail without to":  "camera: {base_url: http://cam}\nmail: {host: smtp.example.com}\n",
		"negative timeout": "camera: {base_url: http://cam}\ntrigger: {run_timeout: -1s}\n",
	}
	for name, data := range cases {
		path := filepath.Join(t.TempDir(), "vigil.yaml")
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		base := Config{Env: "dev", Face: FaceConfig{CascadePath: "./cascade"}}
		if _, err := Load(path, base); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
