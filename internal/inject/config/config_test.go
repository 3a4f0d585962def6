package config

import (
	"strings"
	"testing"
)

type fakeClusters map[string]bool

func (f fakeClusters) Has(name string) bool { return f[name] }

const minimalValidConfig = `{
  "trigger_headers": [{"name": "x-enable", "kind": "presence"}],
  "cluster_name": "enrichment",
  "actions": [
    {"result": ["ok"], "action": "passthrough", "upstream_inject_headers": ["x-jwt"]}
  ]
}`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load([]byte(minimalValidConfig), fakeClusters{"enrichment": true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClusterName != "enrichment" {
		t.Errorf("got cluster %q", cfg.ClusterName)
	}
	if cfg.Timeout.Milliseconds() != defaultTimeoutMS {
		t.Errorf("expected default timeout, got %v", cfg.Timeout)
	}
	if len(cfg.Triggers) != 1 {
		t.Errorf("expected 1 trigger, got %d", len(cfg.Triggers))
	}
}

func TestLoadRejectsUnknownCluster(t *testing.T) {
	_, err := Load([]byte(minimalValidConfig), fakeClusters{})
	if err == nil || !strings.Contains(err.Error(), "unknown cluster") {
		t.Fatalf("expected unknown cluster error, got %v", err)
	}
}

func TestLoadRejectsMissingTriggers(t *testing.T) {
	doc := `{
      "cluster_name": "enrichment",
      "actions": [{"result": ["ok"], "upstream_inject_headers": ["x-jwt"]}]
    }`
	_, err := Load([]byte(doc), fakeClusters{"enrichment": true})
	if err == nil {
		t.Fatal("expected rejection for missing triggers and always_triggered=false")
	}
}

func TestLoadAlwaysTriggeredSkipsTriggerRequirement(t *testing.T) {
	doc := `{
      "always_triggered": true,
      "cluster_name": "enrichment",
      "actions": [{"result": ["ok"], "upstream_inject_headers": ["x-jwt"]}]
    }`
	if _, err := Load([]byte(doc), fakeClusters{"enrichment": true}); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadRejectsNoInjectionCapability(t *testing.T) {
	doc := `{
      "always_triggered": true,
      "cluster_name": "enrichment",
      "actions": [{"result": ["ok"]}]
    }`
	_, err := Load([]byte(doc), fakeClusters{"enrichment": true})
	if err == nil {
		t.Fatal("expected rejection: no action can inject anything")
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	doc := `{
      "always_triggered": true,
      "cluster_name": "enrichment",
      "timeout_ms": 0,
      "actions": [{"result": ["ok"], "upstream_inject_any": true}]
    }`
	_, err := Load([]byte(doc), fakeClusters{"enrichment": true})
	if err == nil || !strings.Contains(err.Error(), "timeout_ms") {
		t.Fatalf("expected timeout_ms validation error, got %v", err)
	}
}

func TestLoadRejectsUnknownTopLevelProperty(t *testing.T) {
	doc := `{
      "always_triggered": true,
      "cluster_name": "enrichment",
      "bogus_field": true,
      "actions": [{"result": ["ok"], "upstream_inject_any": true}]
    }`
	_, err := Load([]byte(doc), fakeClusters{"enrichment": true})
	if err == nil {
		t.Fatal("expected schema validation to reject unknown top-level property")
	}
}

func TestLoadSplitsCookieRemoveNames(t *testing.T) {
	doc := `{
      "always_triggered": true,
      "cluster_name": "enrichment",
      "actions": [
        {"result": ["ok"], "upstream_inject_any": true, "upstream_remove_headers": ["x-old", "cookie.sessId"]}
      ]
    }`
	cfg, err := Load([]byte(doc), fakeClusters{"enrichment": true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a := cfg.Actions.Match("ok")
	if len(a.UpstreamRemoveHeaders) != 1 || a.UpstreamRemoveHeaders[0] != "x-old" {
		t.Errorf("got UpstreamRemoveHeaders=%v", a.UpstreamRemoveHeaders)
	}
	if len(a.UpstreamRemoveCookieNames) != 1 || a.UpstreamRemoveCookieNames[0] != "sessId" {
		t.Errorf("got UpstreamRemoveCookieNames=%v", a.UpstreamRemoveCookieNames)
	}
}
