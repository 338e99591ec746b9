package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the keys under which durable backends store a snapshot, in
// write order.
var Buckets = []string{"allocator", "assets", "owners", "owned", "balances"}

// EncodeBuckets serialises each part of the snapshot as a JSON payload keyed
// by bucket name.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case "allocator":
			data, err = json.Marshal(snapshot.NextID)
		case "assets":
			data, err = json.Marshal(snapshot.Assets)
		case "owners":
			data, err = json.Marshal(snapshot.Owners)
		case "owned":
			data, err = json.Marshal(snapshot.Owned)
		case "balances":
			data, err = json.Marshal(snapshot.Balances)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket applies a stored bucket payload onto snapshot. Unknown buckets
// and empty payloads are ignored.
func DecodeBucket(snapshot *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case "allocator":
		target = &snapshot.NextID
	case "assets":
		target = &snapshot.Assets
	case "owners":
		target = &snapshot.Owners
	case "owned":
		target = &snapshot.Owned
	case "balances":
		target = &snapshot.Balances
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
