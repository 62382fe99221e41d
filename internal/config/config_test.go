package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data-deploy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
deployment:
  environment: staging
  dsn: "postgres://localhost/app"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Deployment.SQLDir != "sql" {
		t.Errorf("sql_dir default = %q, want sql", cfg.Deployment.SQLDir)
	}
	if cfg.Deployment.Enforcement.Level != "normal" {
		t.Errorf("enforcement.level default = %q, want normal", cfg.Deployment.Enforcement.Level)
	}
	if cfg.Deployment.Test.Command != "pg_prove" {
		t.Errorf("test.command default = %q, want pg_prove", cfg.Deployment.Test.Command)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
deployment:
  sql_dir: db/sql
  environment: production
  dsn: "postgres://localhost/app"
  enforcement:
    level: strict
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Deployment.SQLDir != "db/sql" {
		t.Errorf("sql_dir = %q, want db/sql", cfg.Deployment.SQLDir)
	}
	if cfg.Deployment.Enforcement.Level != "strict" {
		t.Errorf("enforcement.level = %q, want strict", cfg.Deployment.Enforcement.Level)
	}
}

func TestValidateRequiresCoreFields(t *testing.T) {
	cfg := &DeploymentConfig{}
	errs := Validate(cfg)
	want := map[string]bool{
		"deployment.sql_dir":     false,
		"deployment.environment": false,
		"deployment.dsn":         false,
	}
	for _, e := range errs {
		if _, ok := want[e.Field]; ok {
			want[e.Field] = true
		}
	}
	for field, found := range want {
		if !found {
			t.Errorf("expected a validation error for %s", field)
		}
	}
}

func TestValidateRejectsUnrecognizedEnforcementLevel(t *testing.T) {
	cfg := &DeploymentConfig{Deployment: Deployment{
		SQLDir: "sql", Environment: "staging", DSN: "postgres://localhost/app",
		SkipCoverage: true,
		Enforcement:  EnforcementSpec{Level: "aggressive"},
	}}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "deployment.enforcement.level" {
			found = true
		}
	}
	if !found {
		t.Error("expected a validation error for unrecognized enforcement level")
	}
}

func TestValidateRequiresFunctionsDeployCommandWhenFunctionsDirSet(t *testing.T) {
	cfg := &DeploymentConfig{Deployment: Deployment{
		SQLDir: "sql", Environment: "staging", DSN: "postgres://localhost/app",
		SkipCoverage: true,
		FunctionsDir: "functions",
	}}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "deployment.functions_deploy.command" {
			found = true
		}
	}
	if !found {
		t.Error("expected a validation error for missing functions_deploy.command")
	}
}

func TestValidateRejectsBadTimeoutDuration(t *testing.T) {
	cfg := &DeploymentConfig{Deployment: Deployment{
		SQLDir: "sql", Environment: "staging", DSN: "postgres://localhost/app",
		SkipCoverage: true,
		Test:         CommandSpec{Command: "pg_prove", Timeout: "not-a-duration"},
	}}
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "deployment.test.timeout" {
			found = true
		}
	}
	if !found {
		t.Error("expected a validation error for an unparseable timeout")
	}
}

func TestToOrchestratorConfigSetsBypassReasonFromFlag(t *testing.T) {
	cfg := &DeploymentConfig{Deployment: Deployment{
		SQLDir: "sql", Environment: "staging", DSN: "postgres://localhost/app",
	}}
	oc := cfg.ToOrchestratorConfig("hotfix for incident 412")
	if oc.Enforcement.BypassReason != "hotfix for incident 412" {
		t.Errorf("bypass reason = %q", oc.Enforcement.BypassReason)
	}
	if !oc.Enforcement.AllowBypass {
		t.Error("expected AllowBypass to be set when a bypass reason is supplied")
	}
}
