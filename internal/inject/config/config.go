// Package config loads, validates, and compiles a filter configuration
// document into the immutable, per-process Config consulted by every stream.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/msample/header-inject-filter/internal/inject/action"
	"github.com/msample/header-inject-filter/internal/inject/headermatch"
)

const (
	defaultTimeoutMS = 120
	minTimeoutMS     = 1

	schemaResourceURL = "mem://inject-config-schema.json"
	cookiePrefix      = "cookie."
)

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Errorf("config: embedded schema is not valid JSON: %w", err))
	}
	if err := c.AddResource(schemaResourceURL, doc); err != nil {
		panic(fmt.Errorf("config: embedded schema resource rejected: %w", err))
	}
	s, err := c.Compile(schemaResourceURL)
	if err != nil {
		panic(fmt.Errorf("config: embedded schema does not compile: %w", err))
	}
	return s
}

// ClusterManager reports whether a named upstream cluster is known. An
// external collaborator — cluster discovery and management live outside
// this repo; Load only consults it to enforce the "unknown cluster"
// validation rule.
type ClusterManager interface {
	Has(name string) bool
}

// Config is the resolved, immutable, per-process filter configuration.
type Config struct {
	Triggers          []headermatch.Constraint
	Antitriggers      []headermatch.Constraint
	AlwaysTriggered   bool
	IncludeHeaders    []string
	IncludeAllHeaders bool
	Params            map[string]string
	ClusterName       string
	Timeout           time.Duration
	Actions           *action.Table
}

// Load validates raw against the embedded JSON Schema, decodes it, compiles
// header/cookie constraints and the action table, and enforces
// configuration-level validation rules (at least one trigger unless
// always_triggered, at least one action that can actually inject
// something, a known cluster). cm is consulted only for the cluster
// existence check.
func Load(raw []byte, cm ClusterManager) (*Config, error) {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("config: invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("config: schema validation failed: %w", err)
	}

	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	triggers, err := headermatch.Compile(toRawConstraints(spec.TriggerHeaders))
	if err != nil {
		return nil, fmt.Errorf("config: trigger_headers: %w", err)
	}
	antitriggers, err := headermatch.Compile(toRawConstraints(spec.AntitriggerHeaders))
	if err != nil {
		return nil, fmt.Errorf("config: antitrigger_headers: %w", err)
	}

	if !spec.AlwaysTriggered && !hasAnyTrigger(triggers) {
		return nil, fmt.Errorf("config: no trigger_headers, no trigger cookies, and always_triggered is false: filter would never run")
	}

	actions := make([]action.Action, 0, len(spec.Actions))
	for i, as := range spec.Actions {
		a, err := compileAction(as)
		if err != nil {
			return nil, fmt.Errorf("config: actions[%d]: %w", i, err)
		}
		actions = append(actions, a)
	}
	if !action.AllowsAnyInjection(actions) {
		return nil, fmt.Errorf("config: no action injects any upstream or downstream header: filter could never have an effect")
	}
	table, err := action.NewTable(actions)
	if err != nil {
		return nil, fmt.Errorf("config: actions: %w", err)
	}

	if spec.ClusterName == "" {
		return nil, fmt.Errorf("config: cluster_name is required")
	}
	if cm != nil && !cm.Has(spec.ClusterName) {
		return nil, fmt.Errorf("config: unknown cluster %q", spec.ClusterName)
	}

	timeoutMS := defaultTimeoutMS
	if spec.TimeoutMS != nil {
		timeoutMS = *spec.TimeoutMS
	}
	if timeoutMS < minTimeoutMS {
		return nil, fmt.Errorf("config: timeout_ms must be >= %d, got %d", minTimeoutMS, timeoutMS)
	}

	return &Config{
		Triggers:          triggers,
		Antitriggers:      antitriggers,
		AlwaysTriggered:   spec.AlwaysTriggered,
		IncludeHeaders:    spec.IncludeHeaders,
		IncludeAllHeaders: spec.IncludeAllHeaders,
		Params:            spec.Params,
		ClusterName:       spec.ClusterName,
		Timeout:           time.Duration(timeoutMS) * time.Millisecond,
		Actions:           table,
	}, nil
}

// hasAnyTrigger reports whether triggers contains at least one constraint —
// header or cookie alike, since this repo represents a trigger cookie as a
// headermatch.Constraint whose Name carries the "cookie." prefix.
func hasAnyTrigger(triggers []headermatch.Constraint) bool {
	return len(triggers) > 0
}

func toRawConstraints(in []ConstraintSpec) []headermatch.Raw {
	out := make([]headermatch.Raw, len(in))
	for i, c := range in {
		out[i] = headermatch.Raw{Name: c.Name, Expected: c.Value, Kind: c.Kind}
	}
	return out
}

func compileAction(as ActionSpec) (action.Action, error) {
	if len(as.Result) == 0 {
		return action.Action{}, fmt.Errorf("result must list at least one RPC result string")
	}

	kind := action.Passthrough
	switch as.Action {
	case "", "passthrough":
		kind = action.Passthrough
	case "abort":
		kind = action.Abort
	case "dynamic":
		kind = action.Dynamic
	default:
		return action.Action{}, fmt.Errorf("unknown action kind %q", as.Action)
	}

	upstreamRemoveHeaders, upstreamRemoveCookies := splitCookieNames(as.UpstreamRemoveHeaders)

	responseCode := 500
	if as.ResponseCode != nil {
		responseCode = *as.ResponseCode
	}

	headers := make([]action.Header, 0, len(as.ResponseHeaders))
	for _, h := range as.ResponseHeaders {
		headers = append(headers, action.Header{Key: h.Key, Value: h.Value})
	}

	return action.Action{
		Result:                    as.Result,
		Kind:                      kind,
		UpstreamInjectHeaders:     as.UpstreamInjectHeaders,
		UpstreamRemoveHeaders:     upstreamRemoveHeaders,
		UpstreamRemoveCookieNames: upstreamRemoveCookies,
		UpstreamInjectAny:         as.UpstreamInjectAny,
		DownstreamInjectHeaders:   as.DownstreamInjectHeaders,
		DownstreamRemoveHeaders:   as.DownstreamRemoveHeaders,
		DownstreamInjectAny:       as.DownstreamInjectAny,
		UseRPCResponse:            as.UseRPCResponse,
		ResponseCode:              responseCode,
		ResponseHeaders:           headers,
		ResponseBody:              as.ResponseBody,
	}, nil
}

// splitCookieNames separates a remove-list into plain header names and
// cookie names using the "cookie.<name>" convention, grounded on
// original_source/inject_config.cc's createFilterFactory, which performs
// the identical split when building its remove_headers/remove_cookies sets.
func splitCookieNames(names []string) (headers []string, cookies []string) {
	for _, n := range names {
		if strings.HasPrefix(n, cookiePrefix) {
			cookies = append(cookies, strings.TrimPrefix(n, cookiePrefix))
			continue
		}
		headers = append(headers, n)
	}
	return headers, cookies
}
