package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Model.Enabled() || cfg.Archive.Enabled() {
		t.Fatal("model and archive must be disabled by default")
	}
	if len(cfg.NPA) == 0 || cfg.NPA[0].Value != "NOTSELECTED" {
		t.Fatalf("unexpected npa list: %+v", cfg.NPA)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("NORMATIVE_JWT_SECRET", "from-env")
	t.Setenv("NORMATIVE_ACCESS_TTL_SECONDS", "60")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_BUCKET", "datasets")
	t.Setenv("MINIO_USE_SSL", "false")

	cfg, err := Load(New())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWTSecret != "from-env" || cfg.AccessTTL != time.Minute {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if !cfg.Model.Enabled() || cfg.Model.OpenAIKey != "sk-test" {
		t.Fatalf("model config not applied: %+v", cfg.Model)
	}
	if !cfg.Archive.Enabled() || cfg.Archive.UseSSL {
		t.Fatalf("archive config not applied: %+v", cfg.Archive)
	}
}

func TestReadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "normative.yaml")
	contents := `addr: ":9000"
npa:
  - value: NOTSELECTED
    label: Не выбрано
  - value: LOCAL
    label: Местный акт
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := New()
	if err := ReadFile(v, path); err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if len(cfg.NPA) != 2 || cfg.NPA[1] != (NPA{Value: "LOCAL", Label: "Местный акт"}) {
		t.Fatalf("npa = %+v", cfg.NPA)
	}
}

func TestLoadRejectsEmptySecret(t *testing.T) {
	v := New()
	v.Set("jwt_secret", "")
	if _, err := Load(v); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
