// Package headermatch tests whether request headers satisfy configured
// presence/literal/regex constraints.
package headermatch

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects how a Constraint's Expected value is interpreted.
type Kind int

const (
	// Presence matches any value as long as the header is present.
	Presence Kind = iota
	// Literal requires byte-exact value equality (case-sensitive).
	Literal
	// Regex requires a full-string match against a pre-compiled pattern.
	Regex
)

// Raw is the user-facing, JSON-decoded shape of a header constraint.
type Raw struct {
	Name     string `json:"name"`
	Expected string `json:"value"`
	Kind     string `json:"kind"` // "presence" (default), "literal", "regex"
}

// Constraint is a compiled, immutable header constraint. Header names are
// normalized to lowercase for case-insensitive lookup; regexes are compiled
// once at config load time and reused for every stream.
type Constraint struct {
	// Name is the lowercase header name, or a "cookie.<name>" pseudo-name
	// for a trigger/include keyed off a named cookie.
	Name     string
	Expected string
	Kind     Kind

	re *regexp.Regexp
}

// IsCookie reports whether this constraint names a cookie rather than a header.
func (c Constraint) IsCookie() bool {
	return strings.HasPrefix(c.Name, "cookie.")
}

// CookieName returns the cookie name for a cookie constraint (valid only
// when IsCookie returns true).
func (c Constraint) CookieName() string {
	return strings.TrimPrefix(c.Name, "cookie.")
}

// Compile validates and pre-compiles a slice of raw constraints. Regex
// compilation failures are configuration errors, surfaced here rather than
// at match time.
func Compile(raw []Raw) ([]Constraint, error) {
	out := make([]Constraint, 0, len(raw))
	for i, r := range raw {
		name := strings.ToLower(r.Name)
		if len(r.Name) >= len("cookie.") && strings.EqualFold(r.Name[:len("cookie.")], "cookie.") {
			// Cookie names are case-sensitive: only the prefix is normalized.
			name = "cookie." + r.Name[len("cookie."):]
		}
		c := Constraint{Name: name, Expected: r.Expected}
		switch strings.ToLower(r.Kind) {
		case "", "presence":
			c.Kind = Presence
		case "literal":
			c.Kind = Literal
		case "regex":
			c.Kind = Regex
			re, err := regexp.Compile("^(?:" + r.Expected + ")$")
			if err != nil {
				return nil, fmt.Errorf("constraint[%d] %q: invalid regex %q: %w", i, r.Name, r.Expected, err)
			}
			c.re = re
		default:
			return nil, fmt.Errorf("constraint[%d] %q: unknown kind %q", i, r.Name, r.Kind)
		}
		out = append(out, c)
	}
	return out, nil
}

// Match tests a single header's value against a constraint. present
// indicates whether the header existed at all; value is meaningless when
// present is false.
func Match(value string, present bool, c Constraint) bool {
	if !present {
		return false
	}
	switch c.Kind {
	case Presence:
		return true
	case Literal:
		return value == c.Expected
	case Regex:
		return c.re.MatchString(value)
	default:
		return false
	}
}

// HeaderLookup is the minimal read-only accessor the matcher needs from a
// request's header map: case-insensitive get-by-name.
type HeaderLookup interface {
	Get(name string) (value string, present bool)
}

// Matched pairs one constraint with the value that satisfied it.
type Matched struct {
	Constraint Constraint
	Value      string
}

// MatchAll returns every constraint satisfied by headers, along with the
// value that satisfied each one, in constraint order. Cookie constraints
// are matched against cookieVals, a pre-parsed name->value map of the
// Cookie header (empty if absent). Used for trigger evaluation, where every
// matching header/cookie pair must be echoed into the RPC request.
func MatchAll(headers HeaderLookup, cookieVals map[string]string, constraints []Constraint) []Matched {
	var out []Matched
	for _, c := range constraints {
		if c.IsCookie() {
			v, ok := cookieVals[c.CookieName()]
			if ok && Match(v, true, c) {
				out = append(out, Matched{c, v})
			}
			continue
		}
		v, present := headers.Get(c.Name)
		if Match(v, present, c) {
			out = append(out, Matched{c, v})
		}
	}
	return out
}

// MatchesAny reports whether any configured constraint is satisfied, without
// collecting every match. Used for antitrigger evaluation, where the first
// match is enough to suppress the RPC.
func MatchesAny(headers HeaderLookup, cookieVals map[string]string, constraints []Constraint) bool {
	for _, c := range constraints {
		if c.IsCookie() {
			if v, ok := cookieVals[c.CookieName()]; ok && Match(v, true, c) {
				return true
			}
			continue
		}
		if v, present := headers.Get(c.Name); Match(v, present, c) {
			return true
		}
	}
	return false
}
