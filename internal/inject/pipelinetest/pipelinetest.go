// Package pipelinetest provides fakes for the inject package's Pipeline and
// HeaderMap contracts, and a fake rpcclient.Client that can be told to
// deliver its callback either inline (before Send returns) or from a
// goroutine — the central synchronous-vs-asynchronous delivery race the
// filter's state machine must tolerate either way.
package pipelinetest

import (
	"context"
	"strings"
	"time"

	"github.com/msample/header-inject-filter/internal/inject"
	"github.com/msample/header-inject-filter/internal/inject/rpcapi"
	"github.com/msample/header-inject-filter/internal/inject/rpcclient"
)

var (
	_ inject.HeaderMap = (*Headers)(nil)
	_ inject.Pipeline  = (*Pipeline)(nil)
)

// Headers is an order-preserving, case-insensitive fake of inject.HeaderMap.
type Headers struct {
	order []string
	vals  map[string]string
	orig  map[string]string
}

// NewHeaders builds a Headers fake, optionally seeded with name/value pairs.
func NewHeaders(pairs ...string) *Headers {
	h := &Headers{vals: make(map[string]string), orig: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func (h *Headers) Get(name string) (string, bool) {
	v, ok := h.vals[strings.ToLower(name)]
	return v, ok
}

func (h *Headers) Set(name, value string) {
	key := strings.ToLower(name)
	if _, ok := h.vals[key]; !ok {
		h.order = append(h.order, key)
	}
	h.vals[key] = value
	h.orig[key] = name
}

func (h *Headers) Remove(name string) {
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

func (h *Headers) Range(fn func(name, value string)) {
	for _, key := range h.order {
		fn(h.orig[key], h.vals[key])
	}
}

// Pipeline is a fake inject.Pipeline recording every call it receives.
type Pipeline struct {
	Internal bool

	ContinueCalls     int
	LocalReplyHeaders *Headers
	LocalReplyEnded   bool
	LocalReplyBody    []byte
	LocalReplyBodyEnd bool
}

func (p *Pipeline) IsInternalRequest() bool { return p.Internal }

func (p *Pipeline) ContinueDecoding() { p.ContinueCalls++ }

func (p *Pipeline) EncodeHeaders(headers inject.HeaderMap, endStream bool) {
	h := NewHeaders()
	headers.Range(func(name, value string) { h.Set(name, value) })
	p.LocalReplyHeaders = h
	p.LocalReplyEnded = endStream
}

func (p *Pipeline) EncodeData(data []byte, endStream bool) {
	p.LocalReplyBody = append([]byte(nil), data...)
	p.LocalReplyBodyEnd = endStream
}

// FakeClient is a fake rpcclient.Client whose Send either delivers its
// callback synchronously (before Send returns) or from a background
// goroutine after Send has already returned, controlled per-call by the
// queued Reply.
type FakeClient struct {
	Replies []Reply
	calls   int
}

// Reply describes one queued Send outcome.
type Reply struct {
	// Async, if true, delivers via a goroutine after a short delay instead
	// of before Send returns.
	Async bool
	Delay time.Duration

	// DispatchErr, if non-nil, makes Send itself fail (no handle, no
	// callback at all).
	DispatchErr error

	Response *rpcapi.InjectResponse
	Failure  string
}

func (c *FakeClient) Send(ctx context.Context, method string, req *rpcapi.InjectRequest, cb rpcclient.Callbacks, deadline time.Duration) (rpcclient.Handle, error) {
	i := c.calls
	c.calls++
	if i >= len(c.Replies) {
		return &fakeHandle{}, nil
	}
	r := c.Replies[i]
	if r.DispatchErr != nil {
		return nil, r.DispatchErr
	}

	deliver := func() {
		if r.Response != nil {
			cb.OnSuccess(r.Response)
		} else {
			cb.OnFailure(r.Failure)
		}
	}

	if !r.Async {
		deliver()
		return &fakeHandle{}, nil
	}

	h := &fakeHandle{}
	go func() {
		if r.Delay > 0 {
			time.Sleep(r.Delay)
		}
		if h.cancelled {
			return
		}
		deliver()
	}()
	return h, nil
}

type fakeHandle struct{ cancelled bool }

func (h *fakeHandle) Cancel() { h.cancelled = true }
