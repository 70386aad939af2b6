package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Codec is a gRPC codec for the messages in this package. Generated protobuf
// messages, such as the health service's, go through proto. It registers
// under the "proto" name so standard protobuf clients interoperate.
type Codec struct{}

func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.AppendWire(nil), nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("wire: cannot marshal %T", v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("wire: cannot unmarshal into %T", v)
	}
}
