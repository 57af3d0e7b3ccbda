// Package protocol defines the wire format exchanged with the Maelstrom
// test harness: one JSON object per line on stdin and stdout.
//
// Big idea:
//
// Every line is an Envelope — a thin src/dest wrapper around a tagged
// Body. The tag lives in the body's own "type" field, so a single Envelope
// type can carry any of the dozen-plus request/reply shapes the various
// workloads define. We never need a different envelope per workload; we
// only ever need a different Body.
//
// Why a raw-message Body instead of one big struct with every field from
// every workload?
//
// Because workloads don't share fields in any meaningful way (a kafka
// "send" has nothing to do with a counter "add"), cramming them into one
// struct would mean every handler has to ignore dozens of fields that
// don't apply to it. Instead we decode the envelope far enough to read
// "type", then let each workload decode the rest of the body itself, into
// whatever shape it actually needs. Bodies we don't recognize — or that
// fail to decode — fall through to each handler's default case (BodyType
// returns "" for an undecodable body) and are dropped,
// per spec: an unrecognized type must never abort the process.
package protocol

import (
	jsoniter "github.com/json-iterator/go"
)

// json is a byte-compatible, faster drop-in for encoding/json. Configured
// once here so every package that imports protocol gets the same codec
// without repeating the ConfigCompatibleWithStandardLibrary() boilerplate.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the outer message record every line on stdin/stdout carries.
type Envelope struct {
	Src  string              `json:"src"`
	Dest string              `json:"dest"`
	Body jsoniter.RawMessage `json:"body"`
}

// typeTag is the minimal shape we need to read before dispatching: every
// recognized body carries a "type" discriminant and, for requests, a
// msg_id.
type typeTag struct {
	Type  string `json:"type"`
	MsgID uint64 `json:"msg_id"`
}

// Marshal serializes v (an Envelope or any JSON-taggable body) to bytes.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a single line into dst.
func Unmarshal(line []byte, dst any) error {
	return json.Unmarshal(line, dst)
}

// DecodeEnvelope parses one NDJSON line into an Envelope. A line that is
// not valid JSON is a protocol error: the caller should log it to the
// diagnostic stream and drop the line, never abort. Missing src/dest
// fields are not checked; they decode as empty strings.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// BodyType reads just the "type" discriminant out of a raw body, without
// fully decoding it. Returns "" if the body has no recognizable type tag.
func BodyType(body jsoniter.RawMessage) string {
	var tag typeTag
	if err := json.Unmarshal(body, &tag); err != nil {
		return ""
	}
	return tag.Type
}

// MsgID reads just the msg_id field out of a raw request body.
func MsgID(body jsoniter.RawMessage) uint64 {
	var tag typeTag
	if err := json.Unmarshal(body, &tag); err != nil {
		return 0
	}
	return tag.MsgID
}

// Encode serializes body to raw JSON, ready to use as an Envelope's Body.
func Encode(body any) (jsoniter.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return jsoniter.RawMessage(data), nil
}
