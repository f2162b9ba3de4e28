// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package codec implements a gRPC wire codec backed by msgpack instead of
// protobuf, so the RPC facade can use gRPC's transport, stream
// multiplexing, and status/codes machinery over plain Go structs without
// running protoc.
package codec

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Name is registered with grpc as this codec's wire format identifier.
const Name = "msgpack"

var handle = &codec.MsgpackHandle{}

// Codec implements google.golang.org/grpc/encoding.Codec.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, handle)
	return dec.Decode(v)
}

func (Codec) Name() string { return Name }
