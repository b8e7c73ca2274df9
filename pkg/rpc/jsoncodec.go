package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with gRPC's codec registry so the
// dispatcher's gRPC server and every client dial marshal request/response
// bodies with encoding/json instead of requiring protoc-generated
// protobuf types (§6 EXPANSION).
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CodecName is the gRPC codec name taskd registers; pass
// grpc.CallContentSubtype(rpc.CodecName) or rely on the registered
// default via grpc.WithDefaultCallOptions at dial time.
const CodecName = jsonCodecName
