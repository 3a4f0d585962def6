// Package cookie removes named cookies from a Cookie header value while
// preserving the delimiter structure of the surrounding pairs.
package cookie

import "strings"

// HeaderGetSetter is the minimal Cookie-header accessor RemoveNamedFromHeaders
// needs. Get returns the raw header value and whether it is present; Set
// replaces any existing value (removing it first, since header stores are
// typically multimaps and a bare append would duplicate the entry).
type HeaderGetSetter interface {
	Get(name string) (string, bool)
	Remove(name string)
	Set(name, value string)
}

const cookieHeaderName = "cookie"

// RemoveNamedFromHeaders removes the Cookie header value's occurrences of the
// named cookie from headers, reinserting the rewritten value only if it is
// non-empty.
func RemoveNamedFromHeaders(name string, headers HeaderGetSetter) {
	value, ok := headers.Get(cookieHeaderName)
	if !ok {
		return
	}
	if !strings.Contains(value, name+"=") {
		return
	}
	newValue := RemoveNamed(name, value)
	headers.Remove(cookieHeaderName)
	if newValue != "" {
		headers.Set(cookieHeaderName, newValue)
	}
}

// RemoveNamed removes every top-level occurrence of "name=<...>" from a
// Cookie header value, matching case-sensitively on name, and returns the
// rewritten value. The input grammar is approximated as
// `pair (";" [" "]* pair)*` where a pair is `name=value`.
//
// Ported from the boundary-scanning algorithm of the original C++ filter,
// extended with an explicit pair-boundary check so that an occurrence of
// "name=" embedded inside another pair's value (e.g. "geo=sessionId=393")
// is skipped rather than mistaken for a real pair.
func RemoveNamed(name, value string) string {
	needle := name + "="
restart:
	searchFrom := 0
	for {
		rel := strings.Index(value[searchFrom:], needle)
		if rel < 0 {
			return value
		}
		startIdx := searchFrom + rel
		if !atPairBoundary(value, startIdx) {
			searchFrom = startIdx + len(needle)
			continue
		}

		endPrevIdx := -1
		isFirst := true
		if startIdx != 0 {
			if i := lastIndexNotOf(value[:startIdx], " ;"); i >= 0 {
				endPrevIdx = i
				isFirst = false
			}
		}

		semiIdx := -1
		if startIdx+len(needle) <= len(value) {
			if rel2 := strings.IndexByte(value[startIdx+len(needle):], ';'); rel2 >= 0 {
				semiIdx = startIdx + len(needle) + rel2
			}
		}
		isLast := true
		startNextIdx := -1
		if semiIdx >= 0 {
			if j := firstIndexNotOf(value[semiIdx+1:], " "); j >= 0 {
				startNextIdx = semiIdx + 1 + j
				isLast = false
			}
		}

		switch {
		case isFirst && isLast:
			return ""
		case isLast:
			value = value[:endPrevIdx+1]
			return value
		case isFirst:
			value = value[startNextIdx:]
		default:
			// Keep the ';' at semiIdx: it now separates the previous
			// pair from whatever follows, exactly as it did before.
			value = value[:endPrevIdx+1] + value[semiIdx:]
		}
		goto restart
	}
}

// atPairBoundary reports whether the "name=" match starting at idx begins a
// top-level pair: either it's at the very start of the value, or the nearest
// non-space character to its left is a ';' (skipping arbitrary spaces).
func atPairBoundary(value string, idx int) bool {
	if idx == 0 {
		return true
	}
	i := idx - 1
	for i >= 0 && value[i] == ' ' {
		i--
	}
	if i < 0 {
		// Only spaces precede the match: still a boundary.
		return true
	}
	return value[i] == ';'
}

// lastIndexNotOf returns the index of the last byte in s that is not any of
// the bytes in cutset, or -1 if every byte in s is in cutset (or s is empty).
func lastIndexNotOf(s, cutset string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if !strings.ContainsRune(cutset, rune(s[i])) {
			return i
		}
	}
	return -1
}

// firstIndexNotOf returns the index of the first byte in s that is not any
// of the bytes in cutset, or -1 if every byte in s is in cutset (or s is empty).
func firstIndexNotOf(s, cutset string) int {
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(cutset, rune(s[i])) {
			return i
		}
	}
	return -1
}
