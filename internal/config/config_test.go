package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ARK_MODEL", "ARK_STREAM", "CORS_ALLOWED_ORIGINS", "COOKIE_SECURE", "DB_PATH"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if !cfg.AI.StreamResponse {
		t.Fatal("streaming should default to on")
	}
	if cfg.AI.Enabled() {
		t.Fatal("AI should be disabled without a model")
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.SecureCookies {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
	if cfg.Store.DBPath == "" {
		t.Fatal("expected default db path")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9090")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "doubao-lite")
	t.Setenv("ARK_PREMIUM_MODEL", "doubao-pro")
	t.Setenv("ARK_TEMPERATURE", "0.4")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("COOKIE_SECURE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %s", cfg.Server.Addr)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("AI should be enabled with key and model")
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.4 {
		t.Fatalf("unexpected temperature: %v", cfg.AI.Temperature)
	}
	if got := cfg.AI.ModelFor(true); got != "doubao-pro" {
		t.Fatalf("premium model = %q", got)
	}
	if got := cfg.AI.ModelFor(false); got != "" {
		t.Fatalf("default model override = %q, want empty", got)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || !cfg.HTTP.SecureCookies {
		t.Fatalf("unexpected http config: %+v", cfg.HTTP)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":            "80 80",
		"ARK_TEMPERATURE": "warm",
		"ARK_MAX_TOKENS":  "0",
		"ARK_STREAM":      "sometimes",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}
