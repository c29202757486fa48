package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes a contract list for storage.
type Codec interface {
	Name() string
	Marshal(contracts []ContractRecord) ([]byte, error)
	Unmarshal(data []byte) ([]ContractRecord, error)
}

// JSON stores contract lists as JSON arrays. It is the default and keeps
// records readable from redis-cli.
var JSON Codec = jsonCodec{}

// Msgpack stores contract lists as msgpack arrays.
var Msgpack Codec = msgpackCodec{}

// CodecByName returns the codec registered under name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case Msgpack.Name():
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("snapshot: unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(contracts []ContractRecord) ([]byte, error) {
	if contracts == nil {
		contracts = []ContractRecord{}
	}
	return json.Marshal(contracts)
}

func (jsonCodec) Unmarshal(data []byte) ([]ContractRecord, error) {
	var out []ContractRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("snapshot: decode json: %w", err)
	}
	return out, nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(contracts []ContractRecord) ([]byte, error) {
	if contracts == nil {
		contracts = []ContractRecord{}
	}
	return msgpack.Marshal(contracts)
}

func (msgpackCodec) Unmarshal(data []byte) ([]ContractRecord, error) {
	var out []ContractRecord
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("snapshot: decode msgpack: %w", err)
	}
	return out, nil
}
