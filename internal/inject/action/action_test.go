package action

import "testing"

func TestNewTableInstallsDefaultAny(t *testing.T) {
	table, err := NewTable(nil)
	if err != nil {
		t.Fatal(err)
	}
	a := table.Match("anything")
	if a.Kind != Abort || a.ResponseCode != 500 {
		t.Errorf("expected default abort/500, got %+v", a)
	}
}

func TestMatchExactResult(t *testing.T) {
	ok := Action{Result: []string{"ok"}, Kind: Passthrough}
	table, err := NewTable([]Action{ok})
	if err != nil {
		t.Fatal(err)
	}
	if got := table.Match("ok"); got.Kind != Passthrough {
		t.Errorf("expected passthrough, got %+v", got)
	}
}

func TestMatchFallsBackToGRPCResponse(t *testing.T) {
	fallback := Action{Result: []string{"local.grpc-response"}, Kind: Abort, ResponseCode: 403}
	table, err := NewTable([]Action{fallback})
	if err != nil {
		t.Fatal(err)
	}
	got := table.Match("no-such-result")
	if got.ResponseCode != 403 {
		t.Errorf("expected fallback to local.grpc-response, got %+v", got)
	}
}

func TestMatchRejectsSpoofedLocalResult(t *testing.T) {
	errAction := Action{Result: []string{"local.error"}, Kind: Abort, ResponseCode: 401}
	table, err := NewTable([]Action{errAction})
	if err != nil {
		t.Fatal(err)
	}
	got := table.Match("local.error")
	if got.ResponseCode != 401 {
		t.Errorf("spoofed local.error result should resolve via error_action, got %+v", got)
	}

	got2 := table.Match("local.anything-else")
	if got2.ResponseCode != 401 {
		t.Errorf("any local.* result should resolve via error_action, got %+v", got2)
	}
}

func TestErrorActionFallsBackToAny(t *testing.T) {
	table, err := NewTable(nil)
	if err != nil {
		t.Fatal(err)
	}
	got := table.ErrorAction()
	if got.ResponseCode != 500 {
		t.Errorf("expected fallback to local.any default, got %+v", got)
	}
}

func TestErrorActionUsesConfiguredLocalError(t *testing.T) {
	errAction := Action{Result: []string{"local.error"}, Kind: Abort, ResponseCode: 429}
	table, err := NewTable([]Action{errAction})
	if err != nil {
		t.Fatal(err)
	}
	if got := table.ErrorAction(); got.ResponseCode != 429 {
		t.Errorf("expected configured local.error, got %+v", got)
	}
}

func TestAllowsAnyInjection(t *testing.T) {
	if AllowsAnyInjection([]Action{{}}) {
		t.Error("expected false for an action with no injection capability")
	}
	if !AllowsAnyInjection([]Action{{UpstreamInjectAny: true}}) {
		t.Error("expected true for upstream_inject_any")
	}
	if !AllowsAnyInjection([]Action{{DownstreamInjectHeaders: []string{"x"}}}) {
		t.Error("expected true for a non-empty downstream allow-list")
	}
}

func TestUpstreamAllowNamesDedup(t *testing.T) {
	table, err := NewTable([]Action{
		{Result: []string{"a"}, UpstreamInjectHeaders: []string{"X-Jwt", "X-User"}},
		{Result: []string{"b"}, UpstreamInjectHeaders: []string{"x-jwt"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	names := table.UpstreamAllowNames()
	if len(names) != 2 {
		t.Errorf("expected 2 deduplicated names, got %v", names)
	}
}
