package config

// Spec is the raw, JSON-decoded shape of a filter configuration document,
// prior to compilation into a Config.
type Spec struct {
	TriggerHeaders     []ConstraintSpec `json:"trigger_headers"`
	AntitriggerHeaders []ConstraintSpec `json:"antitrigger_headers"`
	AlwaysTriggered    bool             `json:"always_triggered"`
	IncludeHeaders     []string         `json:"include_headers"`
	IncludeAllHeaders  bool             `json:"include_all_headers"`
	Params             map[string]string `json:"params"`
	ClusterName        string           `json:"cluster_name"`
	TimeoutMS          *int             `json:"timeout_ms"`
	Actions            []ActionSpec     `json:"actions"`
}

// ConstraintSpec mirrors headermatch.Raw exactly; kept as a distinct type
// so this package's JSON tags stay local to the wire format it owns.
type ConstraintSpec struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Kind  string `json:"kind"`
}

// HeaderSpec is a single (key, value) pair as used in response_headers.
type HeaderSpec struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ActionSpec is the raw shape of one entry in the top-level actions array.
type ActionSpec struct {
	Result                  []string     `json:"result"`
	Action                  string       `json:"action"`
	UpstreamInjectHeaders   []string     `json:"upstream_inject_headers"`
	UpstreamInjectAny       bool         `json:"upstream_inject_any"`
	UpstreamRemoveHeaders   []string     `json:"upstream_remove_headers"`
	DownstreamInjectHeaders []string     `json:"downstream_inject_headers"`
	DownstreamInjectAny     bool         `json:"downstream_inject_any"`
	DownstreamRemoveHeaders []string     `json:"downstream_remove_headers"`
	UseRPCResponse          bool         `json:"use_rpc_response"`
	ResponseCode            *int         `json:"response_code"`
	ResponseHeaders         []HeaderSpec `json:"response_headers"`
	ResponseBody            string       `json:"response_body"`
}
