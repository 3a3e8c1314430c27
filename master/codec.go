package master

import (
	jsoniter "github.com/json-iterator/go"
)

// codec encodes payloads, bundles, and attributes at the storage boundary.
var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodePayload encodes a business payload for storage.
func EncodePayload(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// DecodePayload decodes a stored payload into v.
func DecodePayload(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}
