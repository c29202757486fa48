package rpc

import (
	"encoding/json"
	"fmt"

	grpcEncoding "google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/proto" // the default proto codec must be registered before it is replaced
	"google.golang.org/protobuf/proto"
)

func init() {
	grpcEncoding.RegisterCodec(codec{})
}

// codec takes the place of the default "proto" codec. Messages of this
// package travel as JSON; protobuf messages, such as those of the health
// service, are still encoded with proto.
type codec struct{}

func (codec) Name() string { return "proto" }

func (codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case jsonMsg:
		return json.Marshal(m)
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("rpc codec: cannot marshal %T", v)
	}
}

func (codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case jsonMsg:
		return json.Unmarshal(data, m)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("rpc codec: cannot unmarshal into %T", v)
	}
}
