// Package rpcwire provides the gRPC wire codec for the admin RPC
// surface. The tablet RPC protocol is explicitly out of scope (spec
// §1) and no .proto/generated stubs ship with this project, so rather
// than hand-rolling a binary protobuf encoder we register a small JSON
// codec and use hand-written grpc.ServiceDesc values (pkg/rpcserver,
// pkg/client) — still real gRPC framing, transport, and interceptors,
// just without the codegen step.
package rpcwire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the codec name negotiated over the wire (grpc.CallContentSubtype).
const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcwire: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return Name }
