package model

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

var payloadEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// MarshalCBOR encodes json.Number values as CBOR numbers rather than text.
func (p Payload) MarshalCBOR() ([]byte, error) {
	if p == nil {
		return payloadEncMode.Marshal(nil)
	}
	return payloadEncMode.Marshal(numbersToNative(map[string]any(p)))
}

func numbersToNative(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = numbersToNative(val)
		}
		return out
	case Payload:
		return numbersToNative(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = numbersToNative(val)
		}
		return out
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
