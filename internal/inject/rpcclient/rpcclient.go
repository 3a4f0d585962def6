// Package rpcclient dispatches the InjectService.InjectHeaders RPC and
// delivers its result through a cancellable-handle contract, tolerating a
// callback that fires synchronously (before Send returns) or later from a
// transport goroutine.
package rpcclient

import (
	"context"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/msample/header-inject-filter/internal/inject/rpcapi"
)

// Callbacks receives the outcome of a dispatched RPC. Exactly one of
// OnSuccess/OnFailure is invoked, exactly once, per Send call whose Handle
// is not cancelled first.
type Callbacks interface {
	OnSuccess(resp *rpcapi.InjectResponse)
	OnFailure(status string)
}

// Handle is a cancellable reference to an in-flight RPC. Cancel is
// idempotent and, once it returns, guarantees no further callback delivery
// for the associated Send call — it races with delivery internally rather
// than requiring the caller to synchronize.
type Handle interface {
	Cancel()
}

// Client dispatches a single InjectRequest and returns a handle to the
// in-flight call, or an error if the call could not be dispatched at all —
// in which case no handle is produced and the caller resolves its own
// error action instead of waiting on a callback.
type Client interface {
	Send(ctx context.Context, method string, req *rpcapi.InjectRequest, cb Callbacks, deadline time.Duration) (Handle, error)
}

// cancellableHandle suppresses delivery of a callback whose Cancel has
// already run, and vice versa: whichever of Cancel/deliver executes first
// wins the single atomic transition from pending to settled.
type cancellableHandle struct {
	cancel context.CancelFunc
	done   atomic.Bool
}

func (h *cancellableHandle) Cancel() {
	if h.done.CompareAndSwap(false, true) {
		h.cancel()
	}
}

// tryDeliver reports whether this call won the race to settle the handle;
// only the winner may invoke a callback.
func (h *cancellableHandle) tryDeliver() bool {
	return h.done.CompareAndSwap(false, true)
}

// grpcClient is the production Client, invoking the RPC as a unary gRPC
// call over a JSON-coded wire format (see codec.go) rather than generated
// protobuf stubs, since the enrichment service's own wire format is an
// external collaborator this repo does not own.
type grpcClient struct {
	conn *grpc.ClientConn
}

// NewGRPCClient dials target (an address resolvable by gRPC's name
// resolution, typically the configured cluster's endpoint) and returns a
// Client backed by it. The connection is shared across all streams using
// this Config, a single long-lived ClientConn per upstream.
func NewGRPCClient(target string, opts ...grpc.DialOption) (Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &grpcClient{conn: conn}, nil
}

// Send implements Client. The unary call always runs on a background
// goroutine, since conn.Invoke blocks for the network round trip; a fake
// Client used in tests may instead deliver inline before returning, which
// is the other half of the race DecodeHeaders must tolerate.
func (c *grpcClient) Send(ctx context.Context, method string, req *rpcapi.InjectRequest, cb Callbacks, deadline time.Duration) (Handle, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	h := &cancellableHandle{cancel: cancel}

	go func() {
		resp := new(rpcapi.InjectResponse)
		err := c.conn.Invoke(callCtx, method, req, resp, grpc.ForceCodec(jsonCodec{}))
		if !h.tryDeliver() {
			return
		}
		if err != nil {
			cb.OnFailure(err.Error())
			return
		}
		cb.OnSuccess(resp)
	}()

	return h, nil
}

// Close releases the underlying connection.
func (c *grpcClient) Close() error {
	return c.conn.Close()
}
