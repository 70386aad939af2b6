package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendMessage(b []byte, num protowire.Number, inner []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

// fieldFunc decodes one field. It returns the bytes consumed, or a negative
// protowire error code. Unknown fields are skipped by the caller when the
// function reports handled=false.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (n int, handled bool, err error)

func decode(msg string, b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: %s: %w", msg, protowire.ParseError(n))
		}
		b = b[n:]
		n, handled, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("wire: %s field %d: %w", msg, num, err)
		}
		if !handled {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("wire: %s field %d: %w", msg, num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return nil
}

func wrongType(want, got protowire.Type) error {
	return fmt.Errorf("wire type %d, want %d", got, want)
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, wrongType(protowire.BytesType, typ)
	}
	s, n := protowire.ConsumeString(b)
	return s, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wrongType(protowire.BytesType, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	return v, n, nil
}

func consumeDouble(typ protowire.Type, b []byte) (float64, int, error) {
	if typ != protowire.Fixed64Type {
		return 0, 0, wrongType(protowire.Fixed64Type, typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	return math.Float64frombits(v), n, nil
}

func consumeUvarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wrongType(protowire.VarintType, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	return v, n, nil
}
