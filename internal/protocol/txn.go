package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Op is one operation in a transaction's op list: `["r", key, value]` or
// `["w", key, value]` on the wire, a 3-element array rather than an
// object, so MarshalJSON/UnmarshalJSON build and parse that array shape
// by hand instead of relying on struct tags.
type Op struct {
	Kind  string // "r" or "w"
	Key   uint64
	Value *uint64 // nil means absent/null: a read's input value, or a write of null
}

// MarshalJSON encodes Op as the wire's 3-element array.
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{o.Kind, o.Key, o.Value})
}

// UnmarshalJSON decodes the wire's 3-element array into Op.
func (o *Op) UnmarshalJSON(data []byte) error {
	var raw [3]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode txn op array: %w", err)
	}
	if err := json.Unmarshal(raw[0], &o.Kind); err != nil {
		return fmt.Errorf("decode txn op kind: %w", err)
	}
	if err := json.Unmarshal(raw[1], &o.Key); err != nil {
		return fmt.Errorf("decode txn op key: %w", err)
	}
	var value *uint64
	if err := json.Unmarshal(raw[2], &value); err != nil {
		return fmt.Errorf("decode txn op value: %w", err)
	}
	o.Value = value
	return nil
}

// TxnBody is the shared request shape for both transactional KV workloads.
type TxnBody struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
	Txn   []Op   `json:"txn"`
}

// TxnOkBody is the shared reply shape for both transactional KV workloads.
type TxnOkBody struct {
	Type      string `json:"type"`
	MsgID     uint64 `json:"msg_id"`
	InReplyTo uint64 `json:"in_reply_to"`
	Txn       []Op   `json:"txn"`
}
