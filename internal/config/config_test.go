package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("acme")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Org.ID != "acme" {
		t.Fatalf("expected org id acme, got %q", cfg.Org.ID)
	}
	if cfg.StatusPolicy() != StatusPolicyPermissive {
		t.Fatalf("expected permissive policy, got %s", cfg.StatusPolicy())
	}
	if !cfg.Tasks.AssignerMayUpdateStatus() {
		t.Fatalf("assigner should update status by default")
	}
	if cfg.Server.BasePath != "/api" {
		t.Fatalf("unexpected base path %q", cfg.Server.BasePath)
	}
	if got := cfg.RBAC.Roles["hr"].Inherits; len(got) != 1 || got[0] != "staff" {
		t.Fatalf("hr should inherit staff, got %v", got)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing org", func(c *Config) { c.Org.ID = "" }, "org.id"},
		{"bad policy", func(c *Config) { c.Tasks.StatusPolicy = "strict" }, "status_policy"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative ttl", func(c *Config) { c.Cache.TTLSeconds = -1 }, "ttl_seconds"},
		{"no admin", func(c *Config) { delete(c.RBAC.Roles, AdminRole) }, "must include admin"},
		{"unknown parent", func(c *Config) {
			r := c.RBAC.Roles["manager"]
			r.Inherits = []string{"ghost"}
			c.RBAC.Roles["manager"] = r
		}, "unknown role ghost"},
		{"unknown default role", func(c *Config) { c.RBAC.DefaultRole = "ghost" }, "default_role"},
		{"empty permission", func(c *Config) {
			c.RBAC.Roles["staff"] = RBACRole{Permissions: []string{""}}
		}, "empty permission"},
		{"relative base path", func(c *Config) { c.Server.BasePath = "api" }, "base_path"},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{Secret: "s"}} }, "webhooks[0].url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("acme")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for empty workspace, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	yml := strings.Replace(GenerateDefault("acme"), "status_policy: permissive", "status_policy: forward_only", 1)
	if err := os.WriteFile(filepath.Join(dir, "loanops.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StatusPolicy() != StatusPolicyForwardOnly {
		t.Fatalf("expected forward_only, got %s", cfg.StatusPolicy())
	}
	if got := cfg.RoleIDs(); len(got) != 5 || got[0] != "admin" {
		t.Fatalf("unexpected roles %v", got)
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("org: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}
