// Package action resolves an RPC result string to an immutable mutation
// plan (an Action), per a configured table with reserved "local.*" keys.
package action

import "strings"

// Kind selects how an Action participates in the request/response lifecycle.
type Kind int

const (
	// Passthrough forwards the (mutated) request to upstream.
	Passthrough Kind = iota
	// Abort synthesizes a response locally; upstream is never contacted.
	Abort
	// Dynamic defers the passthrough/abort choice to the RPC response's
	// own Action field.
	Dynamic
)

// Header is a single name/value pair, ordered, used for add-lists and
// abort-response headers.
type Header struct {
	Key   string
	Value string
}

// Action is a resolved mutation plan. Immutable once built by NewTable.
type Action struct {
	// Result lists every RPC result string that selects this Action.
	Result []string
	Kind   Kind

	UpstreamInjectHeaders      []string // allow-list of header names acceptable from the reply
	UpstreamRemoveHeaders      []string
	UpstreamRemoveCookieNames  []string
	UpstreamInjectAny          bool
	DownstreamInjectHeaders    []string
	DownstreamRemoveHeaders    []string
	DownstreamInjectAny        bool

	UseRPCResponse   bool
	ResponseCode     int
	ResponseHeaders  []Header
	ResponseBody     string
}

const (
	localAny          = "local.any"
	localError        = "local.error"
	localGRPCResponse = "local.grpc-response"
)

// defaultAny is the built-in fail-closed fallback installed when the
// configured actions don't define "local.any": abort with a bare 500.
func defaultAny() Action {
	return Action{
		Result:       []string{localAny},
		Kind:         Abort,
		ResponseCode: 500,
	}
}

// Table maps RPC result strings to resolved Actions.
type Table struct {
	byResult map[string]Action
}

// NewTable builds a Table from a sequence of configured Actions. Each
// string in an Action's Result list becomes a key. If "local.any" is not
// present among the configured actions, the built-in fail-closed default is
// installed.
func NewTable(actions []Action) (*Table, error) {
	t := &Table{byResult: make(map[string]Action, len(actions)+1)}
	for _, a := range actions {
		for _, r := range a.Result {
			t.byResult[r] = a
		}
	}
	if _, ok := t.byResult[localAny]; !ok {
		def := defaultAny()
		t.byResult[localAny] = def
	}
	return t, nil
}

// Match resolves an RPC result string to an Action, per:
//  1. results in the "local." namespace are never honored from the network
//     and resolve to ErrorAction() instead (anti-spoofing);
//  2. an exact match wins;
//  3. otherwise "local.grpc-response" is used if configured;
//  4. otherwise "local.any" (guaranteed to exist).
func (t *Table) Match(result string) Action {
	if strings.HasPrefix(result, "local.") {
		return t.ErrorAction()
	}
	if a, ok := t.byResult[result]; ok {
		return a
	}
	if a, ok := t.byResult[localGRPCResponse]; ok {
		return a
	}
	return t.byResult[localAny]
}

// ErrorAction returns the Action used when the RPC fails, times out, cannot
// be dispatched, or the server attempts to spoof a "local." result. Falls
// back to "local.any" when "local.error" is not configured.
func (t *Table) ErrorAction() Action {
	if a, ok := t.byResult[localError]; ok {
		return a
	}
	return t.byResult[localAny]
}

// UpstreamAllowNames returns the union of every configured Action's
// upstream_inject_headers allow-list, deduplicated case-insensitively. The
// order of the returned names is not defined.
// Used to populate InjectRequest.upstream_inject_names before the Action
// that will ultimately apply is known.
func (t *Table) UpstreamAllowNames() []string {
	return t.allowNames(func(a Action) []string { return a.UpstreamInjectHeaders })
}

// DownstreamAllowNames is UpstreamAllowNames for the downstream direction.
func (t *Table) DownstreamAllowNames() []string {
	return t.allowNames(func(a Action) []string { return a.DownstreamInjectHeaders })
}

func (t *Table) allowNames(pick func(Action) []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range t.byResult {
		for _, name := range pick(a) {
			key := strings.ToLower(name)
			if !seen[key] {
				seen[key] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// AllowsAnyInjection reports whether at least one configured Action can add
// either an upstream or downstream header. Used by config validation (§4.4):
// a filter instance with no Action capable of injecting anything is
// rejected, since it could never do useful work.
func AllowsAnyInjection(actions []Action) bool {
	for _, a := range actions {
		if a.UpstreamInjectAny || a.DownstreamInjectAny ||
			len(a.UpstreamInjectHeaders) > 0 || len(a.DownstreamInjectHeaders) > 0 {
			return true
		}
	}
	return false
}
