package mutator

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

// argError is the MutationError for a bad argument.
func argError(mutator, arg, problem string) error {
	return errors.MutationFailed(mutator, fmt.Sprintf("argument %q %s", arg, problem))
}

// String returns args[key] if it is a string.
func String(args model.Args, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// RequireString returns a non-empty string argument.
func RequireString(mutator string, args model.Args, key string) (string, error) {
	v, present := args[key]
	if !present {
		return "", argError(mutator, key, "is required")
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", argError(mutator, key, "must be a non-empty string")
	}
	return s, nil
}

// Int64 returns args[key] as an integer. Wire values arrive as json.Number,
// CBOR as uint64; whole floats are accepted too.
func Int64(args model.Args, key string) (int64, bool, error) {
	v, present := args[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), true, nil
	case int32:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, true, fmt.Errorf("out of range")
		}
		return int64(n), true, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.Abs(n) > 1<<53 {
			return 0, true, fmt.Errorf("not an integer")
		}
		return int64(n), true, nil
	case json.Number:
		i, err := n.Int64()
		return i, true, err
	default:
		return 0, true, fmt.Errorf("not a number")
	}
}

// RequireInt64 returns an integer argument of at least min.
func RequireInt64(mutator string, args model.Args, key string, min int64) (int64, error) {
	n, present, err := Int64(args, key)
	if !present {
		return 0, argError(mutator, key, "is required")
	}
	if err != nil {
		return 0, argError(mutator, key, "must be an integer")
	}
	if n < min {
		return 0, argError(mutator, key, fmt.Sprintf("must be at least %d", min))
	}
	return n, nil
}

// OptionalInt64 is RequireInt64 for arguments that may be absent.
func OptionalInt64(mutator string, args model.Args, key string, min int64) (int64, bool, error) {
	if _, present := args[key]; !present {
		return 0, false, nil
	}
	n, err := RequireInt64(mutator, args, key, min)
	return n, err == nil, err
}

// payloadInt64 reads an integer field of a stored payload.
func payloadInt64(p model.Payload, key string) int64 {
	n, _, err := Int64(model.Args(p), key)
	if err != nil {
		return 0
	}
	return n
}
