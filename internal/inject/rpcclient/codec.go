package rpcclient

import "encoding/json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec, letting the
// InjectService.InjectHeaders call move plain Go structs (rpcapi.InjectRequest/
// InjectResponse) over gRPC's HTTP/2 framing without generated protobuf
// stubs. Passed per-call via grpc.ForceCodec rather than registered
// globally, so it never interferes with any other gRPC service a process
// using this package might also speak.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}
