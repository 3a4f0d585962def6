package inject

import "strings"

// HeaderMap is the mutable, case-insensitive header accessor the pipeline
// owns and the filter mutates in place. Names are matched without regard to
// case. Pseudo-headers such as ":method" and ":path" are ordinary entries.
type HeaderMap interface {
	Get(name string) (value string, present bool)
	Set(name, value string)
	Remove(name string)
	Range(fn func(name, value string))
}

// Pipeline is the surrounding proxy filter-chain runtime: an external
// collaborator that supplies the ability to resume a stopped stream and to
// emit a local reply. Production code adapts its own proxy runtime to this
// interface; tests use the fake in internal/inject/pipelinetest.
type Pipeline interface {
	// IsInternalRequest reports whether the proxy has flagged this request
	// as internal (health checks, sidecar-originated traffic, etc.), in
	// which case the filter never triggers.
	IsInternalRequest() bool
	// ContinueDecoding resumes a request previously paused by returning
	// StopIteration from DecodeHeaders. Must not be called from within the
	// DecodeHeaders call that paused it, when the RPC callback has already
	// fired by the time Send returns.
	ContinueDecoding()
	// EncodeHeaders emits headers as a local reply, bypassing upstream.
	EncodeHeaders(headers HeaderMap, endStream bool)
	// EncodeData emits a local reply's body.
	EncodeData(data []byte, endStream bool)
}

// orderedHeaderMap is a minimal concrete HeaderMap, used to assemble the
// synthetic header set for a local abort response.
type orderedHeaderMap struct {
	order []string
	vals  map[string]string // keyed by lowercase name
	orig  map[string]string // lowercase name -> last-set original casing
}

func newOrderedHeaderMap() *orderedHeaderMap {
	return &orderedHeaderMap{vals: make(map[string]string), orig: make(map[string]string)}
}

func (h *orderedHeaderMap) Get(name string) (string, bool) {
	v, ok := h.vals[strings.ToLower(name)]
	return v, ok
}

func (h *orderedHeaderMap) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.vals[key]; !ok {
		h.order = append(h.order, key)
	}
	h.vals[key] = value
	h.orig[key] = name
}

func (h *orderedHeaderMap) Remove(name string) {
	key := strings.ToLower(name)
	if _, ok := h.vals[key]; !ok {
		return
	}
	delete(h.vals, key)
	delete(h.orig, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *orderedHeaderMap) Range(fn func(name, value string)) {
	for _, key := range h.order {
		fn(h.orig[key], h.vals[key])
	}
}

// cookieAdapter lets cookie.RemoveNamedFromHeaders operate directly on a
// HeaderMap's "cookie" entry.
type cookieAdapter struct{ headers HeaderMap }

func (c cookieAdapter) Get(name string) (string, bool) { return c.headers.Get(name) }
func (c cookieAdapter) Remove(name string)              { c.headers.Remove(name) }
func (c cookieAdapter) Set(name, value string)          { c.headers.Set(name, value) }

// headerLookupAdapter adapts HeaderMap to headermatch.HeaderLookup.
type headerLookupAdapter struct{ headers HeaderMap }

func (a headerLookupAdapter) Get(name string) (string, bool) { return a.headers.Get(name) }

// parseCookies splits the Cookie header (if present) into a name->value map
// for the headermatch package's cookie-constraint matching. Cookie names
// are matched case-sensitively; the first occurrence of a repeated name
// wins, matching the conventional meaning of a cookie jar.
func parseCookies(headers HeaderMap) map[string]string {
	raw, ok := headers.Get("cookie")
	if !ok || raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if _, exists := out[name]; !exists {
			out[name] = value
		}
	}
	return out
}
