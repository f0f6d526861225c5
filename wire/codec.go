// Package wire defines the logical messages exchanged between Agent
// implementations over gRPC, plus a Codec so gRPC can marshal them
// without protobuf-generated types. The teacher's pb/ subpackage plays
// the same role for its AppendEntries/RequestVote/InstallSnapshot
// messages, generated from .proto files; here the messages are
// hand-written structs and the wire format is msgpack (via
// github.com/ugorji/go/codec, the same library the teacher uses for
// its snapshot encoding in cmd/kv/statemachine.go), registered as a
// custom grpc encoding.Codec instead.
package wire

import (
	"github.com/ugorji/go/codec"
	"google.golang.org/grpc/encoding"
)

// Name is the codec name negotiated by gRPC's "Content-Subtype" when
// dialing or serving with grpc.CallContentSubtype(wire.Name) /
// grpc.ForceServerCodec(wire.NewCodec()).
const Name = "msgpack"

var handle = &codec.MsgpackHandle{}

// Codec implements google.golang.org/grpc/encoding.Codec by delegating
// to ugorji's msgpack handle, so arbitrary Go structs can be sent as
// gRPC messages without a .proto schema.
type Codec struct{}

// NewCodec constructs a Codec and registers it with gRPC's global
// encoding registry under Name, mirroring how the teacher's generated
// pb package registers its own proto codec implicitly through grpc's
// default codec.
func NewCodec() *Codec {
	c := &Codec{}
	encoding.RegisterCodec(c)
	return c
}

func (*Codec) Name() string { return Name }

func (*Codec) Marshal(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (*Codec) Unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, handle)
	return dec.Decode(v)
}
