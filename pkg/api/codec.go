package api

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// gobCodecName is registered as a gRPC content-subtype. Every lockring
// RPC message is a plain Go struct (see messages.go) encoded with
// encoding/gob rather than generated protobuf marshal code — the
// retrieval environment has no protoc, and hashicorp/raft's own
// TCPTransport already uses gob for its wire RPCs, so this follows the
// same precedent rather than hand-faking reflection-based protobuf
// output.
const gobCodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}

func (gobCodec) Name() string {
	return gobCodecName
}
