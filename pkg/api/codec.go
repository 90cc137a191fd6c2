package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc's encoding.Codec registry in place
// of "proto". This package has no .proto file and no protoc-gen-go output
// in this tree (see DESIGN.md), so wire framing is
// JSON rather than the protobuf binary format; grpc itself, its framing,
// streaming, and interceptor chain are unchanged.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// contentSubtype is the content-type suffix ("json", i.e. application/grpc+json)
// clients must request (via grpc.CallContentSubtype) to select jsonCodec instead of the
// default "proto" codec.
func contentSubtype() string { return jsonCodecName }
