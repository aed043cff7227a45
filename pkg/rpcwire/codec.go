// Package rpcwire carries the region server's wire types across grpc without
// a protoc-generated stub package: a JSON encoding.Codec forced on both ends
// of the connection, plus the hand-written service descriptors the master
// client and client front end register against.
package rpcwire

import (
	"encoding/json"
	"fmt"
)

// CodecName is negotiated over grpc's content-subtype; both client and
// server force it explicitly rather than relying on protobuf's default.
const CodecName = "regiond-json"

// Codec implements grpc's encoding.Codec by marshaling every message as
// JSON. Messages are plain structs in pkg/types, not protobuf messages, so
// this replaces the generated marshal/unmarshal code a .proto build would
// normally produce.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpcwire: marshaling %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpcwire: unmarshaling into %T: %w", v, err)
	}
	return nil
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
