package inject

import (
	"testing"
	"time"

	"github.com/msample/header-inject-filter/internal/inject/action"
	"github.com/msample/header-inject-filter/internal/inject/config"
	"github.com/msample/header-inject-filter/internal/inject/headermatch"
	"github.com/msample/header-inject-filter/internal/inject/pipelinetest"
	"github.com/msample/header-inject-filter/internal/inject/rpcapi"
	"github.com/msample/header-inject-filter/internal/inject/rpcclient"
)

func mustTriggers(t *testing.T, raw []headermatch.Raw) []headermatch.Constraint {
	t.Helper()
	cs, err := headermatch.Compile(raw)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return cs
}

func newTestConfig(t *testing.T, spec *config.Config, client rpcclient.Client) *Config {
	t.Helper()
	return NewConfig(spec, func() rpcclient.Client { return client }, nil, nil)
}

func baseSpec(t *testing.T, actions []action.Action, alwaysTriggered bool) *config.Config {
	t.Helper()
	table, err := action.NewTable(actions)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	var triggers []headermatch.Constraint
	if !alwaysTriggered {
		triggers = mustTriggers(t, []headermatch.Raw{{Name: "x-enable", Kind: "presence"}})
	}
	return &config.Config{
		Triggers:        triggers,
		AlwaysTriggered: alwaysTriggered,
		ClusterName:     "enrichment",
		Timeout:         50 * time.Millisecond,
		Actions:         table,
	}
}

func TestDecodeHeaders_NotTriggered(t *testing.T) {
	spec := baseSpec(t, nil, false)
	client := &pipelinetest.FakeClient{}
	cfg := newTestConfig(t, spec, client)
	pipe := &pipelinetest.Pipeline{}
	s := cfg.NewStream(pipe)

	headers := pipelinetest.NewHeaders("host", "example.com")
	status := s.DecodeHeaders(headers, false)

	if status != Continue {
		t.Fatalf("expected Continue, got %v", status)
	}
	if s.state != stateNotTriggered {
		t.Fatalf("expected state to remain NotTriggered, got %v", s.state)
	}
	if client.Replies != nil {
		t.Fatal("no RPC should have been configured/consumed")
	}
}

func TestDecodeHeaders_TriggeredPassthroughSync(t *testing.T) {
	actions := []action.Action{
		{Result: []string{"ok"}, Kind: action.Passthrough, UpstreamInjectHeaders: []string{"x-jwt"}},
	}
	spec := baseSpec(t, actions, false)
	client := &pipelinetest.FakeClient{Replies: []pipelinetest.Reply{
		{Response: &rpcapi.InjectResponse{
			Result:          "ok",
			UpstreamHeaders: []rpcapi.Header{{Key: "x-jwt", Value: "signed-token"}},
		}},
	}}
	cfg := newTestConfig(t, spec, client)
	pipe := &pipelinetest.Pipeline{}
	s := cfg.NewStream(pipe)

	headers := pipelinetest.NewHeaders("x-enable", "1", "cookie", "sessId=123")
	status := s.DecodeHeaders(headers, false)

	if status != Continue {
		t.Fatalf("expected Continue for a synchronously-resolved RPC, got %v", status)
	}
	if s.state != stateWaitingForUpstream {
		t.Fatalf("expected WaitingForUpstream, got %v", s.state)
	}
	if pipe.ContinueCalls != 0 {
		t.Fatalf("ContinueDecoding must not be called when the callback fired inline (was_sending), got %d calls", pipe.ContinueCalls)
	}
	if v, ok := headers.Get("x-jwt"); !ok || v != "signed-token" {
		t.Errorf("expected x-jwt=signed-token, got %q (present=%v)", v, ok)
	}
	if v, ok := headers.Get("cookie"); !ok || v != "sessId=123" {
		t.Errorf("expected cookie unchanged, got %q (present=%v)", v, ok)
	}
}

func TestDecodeHeaders_TriggeredPassthroughAsync(t *testing.T) {
	actions := []action.Action{
		{Result: []string{"ok"}, Kind: action.Passthrough, UpstreamInjectHeaders: []string{"x-jwt"}},
	}
	spec := baseSpec(t, actions, false)
	client := &pipelinetest.FakeClient{Replies: []pipelinetest.Reply{
		{Async: true, Delay: 5 * time.Millisecond, Response: &rpcapi.InjectResponse{
			Result:          "ok",
			UpstreamHeaders: []rpcapi.Header{{Key: "x-jwt", Value: "signed-token"}},
		}},
	}}
	cfg := newTestConfig(t, spec, client)
	pipe := &pipelinetest.Pipeline{}
	s := cfg.NewStream(pipe)

	headers := pipelinetest.NewHeaders("x-enable", "1")
	status := s.DecodeHeaders(headers, false)

	if status != StopIteration {
		t.Fatalf("expected StopIteration while the RPC is still in flight, got %v", status)
	}
	if s.state != stateInjectRequestSent {
		t.Fatalf("expected InjectRequestSent, got %v", s.state)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pipe.ContinueCalls > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if pipe.ContinueCalls != 1 {
		t.Fatalf("expected ContinueDecoding to be called exactly once for the async callback, got %d", pipe.ContinueCalls)
	}
	if v, ok := headers.Get("x-jwt"); !ok || v != "signed-token" {
		t.Errorf("expected x-jwt=signed-token, got %q (present=%v)", v, ok)
	}
}

func TestDecodeHeaders_AlwaysTriggeredDispatchFailureAborts(t *testing.T) {
	spec := baseSpec(t, nil, true) // no configured actions: built-in local.any abort/500
	client := &pipelinetest.FakeClient{Replies: []pipelinetest.Reply{
		{DispatchErr: errDispatch{}},
	}}
	cfg := newTestConfig(t, spec, client)
	pipe := &pipelinetest.Pipeline{}
	s := cfg.NewStream(pipe)

	headers := pipelinetest.NewHeaders()
	status := s.DecodeHeaders(headers, false)

	if status != StopIteration {
		t.Fatalf("expected StopIteration for a local abort, got %v", status)
	}
	if s.state != stateAborting {
		t.Fatalf("expected Aborting, got %v", s.state)
	}
	if pipe.LocalReplyHeaders == nil {
		t.Fatal("expected a local reply to have been emitted")
	}
	if v, _ := pipe.LocalReplyHeaders.Get(":status"); v != "500" {
		t.Errorf("expected :status=500, got %q", v)
	}
}

func TestOnDestroy_CancelsInFlightRPCAndDropsLateCallback(t *testing.T) {
	actions := []action.Action{
		{Result: []string{"ok"}, Kind: action.Passthrough, UpstreamInjectHeaders: []string{"x-jwt"}},
	}
	spec := baseSpec(t, actions, false)
	client := &pipelinetest.FakeClient{Replies: []pipelinetest.Reply{
		{Async: true, Delay: 20 * time.Millisecond, Response: &rpcapi.InjectResponse{Result: "ok"}},
	}}
	cfg := newTestConfig(t, spec, client)
	pipe := &pipelinetest.Pipeline{}
	s := cfg.NewStream(pipe)

	headers := pipelinetest.NewHeaders("x-enable", "1")
	if status := s.DecodeHeaders(headers, false); status != StopIteration {
		t.Fatalf("expected StopIteration, got %v", status)
	}

	s.OnDestroy()
	if s.state != stateDone {
		t.Fatalf("expected Done after destroy, got %v", s.state)
	}

	time.Sleep(40 * time.Millisecond)
	if pipe.ContinueCalls != 0 {
		t.Fatalf("destroyed stream must not resume decoding from a late callback, got %d calls", pipe.ContinueCalls)
	}
	if s.state != stateDone {
		t.Fatalf("late callback must not move state away from Done, got %v", s.state)
	}
}

func TestHandleAbort_UsesRPCResponseWhenConfigured(t *testing.T) {
	actions := []action.Action{
		{Result: []string{"no-user"}, Kind: action.Abort, UseRPCResponse: true, ResponseCode: 500},
	}
	spec := baseSpec(t, actions, true)
	client := &pipelinetest.FakeClient{Replies: []pipelinetest.Reply{
		{Response: &rpcapi.InjectResponse{
			Result:       "no-user",
			ResponseCode: 403,
			ResponseBody: "forbidden",
		}},
	}}
	cfg := newTestConfig(t, spec, client)
	pipe := &pipelinetest.Pipeline{}
	s := cfg.NewStream(pipe)

	s.DecodeHeaders(pipelinetest.NewHeaders(), false)

	if v, _ := pipe.LocalReplyHeaders.Get(":status"); v != "403" {
		t.Errorf("expected rpc response_code 403 to win, got %q", v)
	}
	if string(pipe.LocalReplyBody) != "forbidden" {
		t.Errorf("expected rpc response_body, got %q", pipe.LocalReplyBody)
	}
}

type errDispatch struct{}

func (errDispatch) Error() string { return "dispatch failed" }
