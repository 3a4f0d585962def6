// Package inject implements the per-stream header-injection filter state
// machine: trigger evaluation, enrichment-RPC dispatch, the race-safe
// success/failure callback, and header mutation on both directions of a
// proxied request.
package inject

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/msample/header-inject-filter/internal/inject/action"
	"github.com/msample/header-inject-filter/internal/inject/config"
	"github.com/msample/header-inject-filter/internal/inject/cookie"
	"github.com/msample/header-inject-filter/internal/inject/headermatch"
	"github.com/msample/header-inject-filter/internal/inject/rpcapi"
	"github.com/msample/header-inject-filter/internal/inject/rpcclient"
)

// Status is the pipeline's Continue/StopIteration signal for the
// header/trailer callbacks.
type Status int

const (
	Continue Status = iota
	StopIteration
)

// DataStatus is the pipeline's signal for the data callback, which can ask
// the pipeline to buffer the chunk while the filter is suspended.
type DataStatus int

const (
	DataContinue DataStatus = iota
	StopIterationAndBuffer
	StopIterationNoBuffer
)

type state int32

const (
	stateNotTriggered state = iota
	stateSendingInjectRequest
	stateInjectRequestSent
	stateWaitingForUpstream
	stateAborting
	stateDone
)

// Config is the per-process filter instance: the resolved configuration
// plus a factory binding it to a live RPC client. Shared, immutable, and
// read concurrently by every Stream it creates.
type Config struct {
	Spec      *config.Config
	NewClient func() rpcclient.Client
	Metrics   FilterMetrics
	Logger    *slog.Logger
}

// NewConfig builds a Config from a resolved configuration and an RPC client
// factory. Metrics may be nil, in which case recording is skipped.
func NewConfig(spec *config.Config, newClient func() rpcclient.Client, metrics FilterMetrics, logger *slog.Logger) *Config {
	if logger == nil {
		logger = slog.Default()
	}
	return &Config{Spec: spec, NewClient: newClient, Metrics: metrics, Logger: logger}
}

// NewStream creates a per-request Stream bound to pipeline.
func (c *Config) NewStream(pipeline Pipeline) *Stream {
	return &Stream{
		cfg:      c,
		pipeline: pipeline,
		id:       uuid.NewString(),
		state:    stateNotTriggered,
	}
}

// Stream is the per-request filter coordinator. It implements
// rpcclient.Callbacks itself: one record serves both as the pipeline-facing
// filter and the RPC-facing callback sink, safe without locking because a
// single stream is only ever driven by one pipeline thread at a time.
type Stream struct {
	cfg      *Config
	pipeline Pipeline
	id       string

	state      state
	reqHeaders HeaderMap // borrowed; valid only while the pipeline has paused for us
	rpcHandle  rpcclient.Handle
	resp       *rpcapi.InjectResponse
	action     *action.Action
	rpcStarted time.Time
}

func (s *Stream) logger() *slog.Logger {
	return s.cfg.Logger.With(slog.String("stream_id", s.id))
}

// DecodeHeaders evaluates triggers/antitriggers against the request and,
// if triggered, dispatches the enrichment RPC.
func (s *Stream) DecodeHeaders(headers HeaderMap, endStream bool) Status {
	if s.pipeline.IsInternalRequest() {
		return Continue
	}

	spec := s.cfg.Spec
	cookieVals := parseCookies(headers)
	lookup := headerLookupAdapter{headers}

	var inputHeaders []rpcapi.Header
	triggered := false

	if spec.AlwaysTriggered {
		triggered = true
	} else {
		if headermatch.MatchesAny(lookup, cookieVals, spec.Antitriggers) {
			return Continue
		}
		matched := headermatch.MatchAll(lookup, cookieVals, spec.Triggers)
		if len(matched) > 0 {
			triggered = true
			if !spec.IncludeAllHeaders {
				for _, m := range matched {
					inputHeaders = append(inputHeaders, rpcapi.Header{Key: m.Constraint.Name, Value: m.Value})
				}
			}
		}
	}
	if !triggered {
		return Continue
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordTriggered()
	}

	if spec.IncludeAllHeaders {
		headers.Range(func(name, value string) {
			inputHeaders = append(inputHeaders, rpcapi.Header{Key: name, Value: value})
		})
	} else {
		for _, name := range spec.IncludeHeaders {
			if v, ok := headers.Get(name); ok {
				inputHeaders = append(inputHeaders, rpcapi.Header{Key: name, Value: v})
			}
		}
	}

	req := &rpcapi.InjectRequest{
		InputHeaders:          inputHeaders,
		UpstreamInjectNames:   spec.Actions.UpstreamAllowNames(),
		DownstreamInjectNames: spec.Actions.DownstreamAllowNames(),
		Params:                spec.Params,
	}

	s.reqHeaders = headers
	s.state = stateSendingInjectRequest
	s.rpcStarted = monotonicNow()
	client := s.cfg.NewClient()
	handle, err := client.Send(context.Background(), rpcapi.Method, req, s, spec.Timeout)
	if err != nil || handle == nil {
		s.logger().Debug("enrichment RPC dispatch failed", slog.Any("error", err))
		s.recordRPCOutcome("", true)
		s.handleAction(spec.Actions.ErrorAction(), nil)
		if s.state == stateWaitingForUpstream {
			return Continue
		}
		return StopIteration
	}
	s.rpcHandle = handle

	switch s.state {
	case stateAborting:
		return StopIteration
	case stateWaitingForUpstream:
		return Continue
	default:
		s.state = stateInjectRequestSent
		return StopIteration
	}
}

// DecodeData buffers body chunks while an enrichment decision is pending
// and drops them once the stream has committed to a local abort.
func (s *Stream) DecodeData(data []byte, endStream bool) DataStatus {
	switch s.state {
	case stateAborting:
		return StopIterationNoBuffer
	case stateInjectRequestSent:
		return StopIterationAndBuffer
	default:
		return DataContinue
	}
}

// DecodeTrailers stalls trailers for the same states DecodeData stalls
// body chunks for.
func (s *Stream) DecodeTrailers(trailers HeaderMap) Status {
	switch s.state {
	case stateAborting, stateInjectRequestSent:
		return StopIteration
	default:
		return Continue
	}
}

// OnSuccess implements rpcclient.Callbacks.
func (s *Stream) OnSuccess(resp *rpcapi.InjectResponse) {
	if strings.HasPrefix(resp.Result, "local.") {
		s.logger().Error("enrichment service returned a spoofed local result", slog.String("result", resp.Result))
		s.recordRPCOutcome("", true)
		s.handleAction(s.cfg.Spec.Actions.ErrorAction(), nil)
		return
	}
	act := s.cfg.Spec.Actions.Match(resp.Result)
	s.recordRPCOutcome(resp.Result, false)
	s.handleAction(act, resp)
}

// OnFailure implements rpcclient.Callbacks.
func (s *Stream) OnFailure(status string) {
	s.logger().Debug("enrichment RPC failed", slog.String("status", status))
	s.recordRPCOutcome("", true)
	s.handleAction(s.cfg.Spec.Actions.ErrorAction(), nil)
}

func (s *Stream) recordRPCOutcome(result string, failed bool) {
	if s.cfg.Metrics == nil {
		return
	}
	d := monotonicNow().Sub(s.rpcStarted)
	if failed {
		s.cfg.Metrics.RecordRPCFailure(d)
		return
	}
	s.cfg.Metrics.RecordRPCResult(result, d)
}

// handleAction resolves a possibly-dynamic action and dispatches to
// handlePassThrough or handleAbort.
func (s *Stream) handleAction(act action.Action, resp *rpcapi.InjectResponse) {
	s.resp = resp
	s.action = &act

	kind := act.Kind
	if kind == action.Dynamic {
		if resp != nil && resp.Action == "passthrough" {
			kind = action.Passthrough
		} else if resp != nil && resp.Action == "abort" {
			kind = action.Abort
		} else {
			// No action named in the response: fail closed as an abort
			// using the configured error action rather than guess.
			errAct := s.cfg.Spec.Actions.ErrorAction()
			s.action = &errAct
			s.resp = nil
			s.handleAbort(errAct, nil)
			return
		}
	}

	if kind == action.Passthrough {
		s.handlePassThrough(act, resp)
	} else {
		s.handleAbort(act, resp)
	}
}

// handlePassThrough applies upstream mutations to the borrowed request
// header map and resumes the paused decode.
func (s *Stream) handlePassThrough(act action.Action, resp *rpcapi.InjectResponse) {
	headers := s.reqHeaders
	if headers != nil {
		if act.UpstreamInjectAny {
			if resp != nil {
				for _, h := range resp.UpstreamHeaders {
					headers.Remove(h.Key)
					headers.Set(h.Key, h.Value)
				}
				for _, n := range resp.UpstreamRemoveNames {
					headers.Remove(n)
				}
			}
		} else if resp != nil {
			removeSet := toLowerSet(resp.UpstreamRemoveNames)
			addSet := toLowerMap(resp.UpstreamHeaders)
			for _, name := range act.UpstreamInjectHeaders {
				key := strings.ToLower(name)
				if removeSet[key] {
					headers.Remove(name)
				} else if v, ok := addSet[key]; ok && v != "" {
					headers.Remove(name)
					headers.Set(name, v)
				}
			}
		}

		for _, name := range act.UpstreamRemoveHeaders {
			headers.Remove(name)
		}
		for _, cname := range act.UpstreamRemoveCookieNames {
			cookie.RemoveNamedFromHeaders(cname, cookieAdapter{headers})
		}
	}

	wasSending := s.state == stateSendingInjectRequest
	s.state = stateWaitingForUpstream
	if !wasSending {
		s.pipeline.ContinueDecoding()
	}
}

// handleAbort synthesizes a local response without contacting upstream.
func (s *Stream) handleAbort(act action.Action, resp *rpcapi.InjectResponse) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordAbort()
	}

	code := act.ResponseCode
	body := act.ResponseBody
	hdrs := act.ResponseHeaders
	if act.UseRPCResponse && resp != nil && resp.ResponseCode != 0 {
		code = resp.ResponseCode
		body = resp.ResponseBody
		hdrs = toActionHeaders(resp.ResponseHeaders)
	}

	out := newOrderedHeaderMap()
	for _, h := range hdrs {
		out.Set(h.Key, h.Value)
	}
	out.Set(":status", strconv.Itoa(code))
	if body != "" {
		out.Set("content-length", strconv.Itoa(len(body)))
	}

	s.state = stateAborting
	s.pipeline.EncodeHeaders(out, body == "")
	if body != "" {
		s.pipeline.EncodeData([]byte(body), true)
	}
}

// EncodeHeaders applies downstream-direction mutations to the response
// headers on their way back to the client.
func (s *Stream) EncodeHeaders(headers HeaderMap, endStream bool) Status {
	if s.state == stateNotTriggered || s.resp == nil || s.action == nil {
		return Continue
	}
	act := *s.action
	resp := s.resp

	if act.DownstreamInjectAny {
		for _, h := range resp.DownstreamHeaders {
			headers.Remove(h.Key)
			headers.Set(h.Key, h.Value)
		}
		for _, n := range resp.DownstreamRemoveNames {
			headers.Remove(n)
		}
	} else {
		addSet := toLowerMap(resp.DownstreamHeaders)
		for _, name := range act.DownstreamInjectHeaders {
			if v, ok := addSet[strings.ToLower(name)]; ok && v != "" {
				headers.Remove(name)
				headers.Set(name, v)
			}
		}
	}
	for _, name := range act.DownstreamRemoveHeaders {
		headers.Remove(name)
	}
	return Continue
}

// EncodeData always continues; the filter never mutates the response body.
func (s *Stream) EncodeData(data []byte, endStream bool) DataStatus { return DataContinue }

// EncodeTrailers always continues; the filter never mutates trailers.
func (s *Stream) EncodeTrailers(trailers HeaderMap) Status { return Continue }

// OnDestroy cancels any in-flight RPC and marks the stream Done. Idempotent.
func (s *Stream) OnDestroy() {
	if s.state == stateInjectRequestSent && s.rpcHandle != nil {
		s.rpcHandle.Cancel()
	}
	s.state = stateDone
}

func toLowerSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[strings.ToLower(n)] = true
	}
	return out
}

func toLowerMap(headers []rpcapi.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[strings.ToLower(h.Key)] = h.Value
	}
	return out
}

func toActionHeaders(headers []rpcapi.Header) []action.Header {
	out := make([]action.Header, 0, len(headers))
	for _, h := range headers {
		out = append(out, action.Header{Key: h.Key, Value: h.Value})
	}
	return out
}

// monotonicNow is the sole source of wall-clock time in this package, kept
// to one call site so latency measurement has one seam.
func monotonicNow() time.Time { return time.Now() }
