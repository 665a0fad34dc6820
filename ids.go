package delegatekit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// IDKind discriminates the underlying type of a capability id.
type IDKind uint8

const (
	// IDInt is an integer-typed id.
	IDInt IDKind = iota + 1
	// IDString is a string-typed id.
	IDString
)

// ID identifies a role or permission. The underlying type is part of the
// identity: IntID(1) and StringID("1") are different ids and never compare
// equal. The zero ID is invalid and matches nothing.
type ID struct {
	kind IDKind
	i    int64
	s    string
}

// IntID creates an integer-typed id.
func IntID(v int64) ID {
	return ID{kind: IDInt, i: v}
}

// StringID creates a string-typed id.
func StringID(v string) ID {
	return ID{kind: IDString, s: v}
}

// NewID creates an ID from a dynamically-typed value. Signed and unsigned
// integers become integer ids, strings become string ids. Unsigned values
// above math.MaxInt64 and any other type are rejected with ErrInvalidScope.
func NewID(v any) (ID, error) {
	switch t := v.(type) {
	case ID:
		return t, nil
	case int:
		return IntID(int64(t)), nil
	case int8:
		return IntID(int64(t)), nil
	case int16:
		return IntID(int64(t)), nil
	case int32:
		return IntID(int64(t)), nil
	case int64:
		return IntID(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return ID{}, fmt.Errorf("%w: integer id %d overflows int64", ErrInvalidScope, t)
		}
		return IntID(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return ID{}, fmt.Errorf("%w: integer id %d overflows int64", ErrInvalidScope, t)
		}
		return IntID(int64(t)), nil
	case uint8:
		return IntID(int64(t)), nil
	case uint16:
		return IntID(int64(t)), nil
	case uint32:
		return IntID(int64(t)), nil
	case string:
		return StringID(t), nil
	default:
		return ID{}, fmt.Errorf("%w: id must be an integer or a string, got %T", ErrInvalidScope, v)
	}
}

// Kind returns the id kind, or 0 for the zero ID.
func (id ID) Kind() IDKind {
	return id.kind
}

// IsZero reports whether the id is the invalid zero value.
func (id ID) IsZero() bool {
	return id.kind == 0
}

// Int returns the integer value and true for integer-typed ids.
func (id ID) Int() (int64, bool) {
	return id.i, id.kind == IDInt
}

// String returns a human-readable form of the id.
func (id ID) String() string {
	switch id.kind {
	case IDInt:
		return strconv.FormatInt(id.i, 10)
	case IDString:
		return id.s
	default:
		return "<zero>"
	}
}

// Key returns a stable storage encoding that preserves the id kind:
// "i:<n>" for integers, "s:<text>" for strings. The inverse is ParseKey.
func (id ID) Key() string {
	switch id.kind {
	case IDInt:
		return "i:" + strconv.FormatInt(id.i, 10)
	case IDString:
		return "s:" + id.s
	default:
		return ""
	}
}

// ParseKey decodes an id from its Key form.
func ParseKey(key string) (ID, error) {
	prefix, rest, ok := strings.Cut(key, ":")
	if !ok {
		return ID{}, fmt.Errorf("delegatekit: malformed id key %q", key)
	}
	switch prefix {
	case "i":
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("delegatekit: malformed integer id key %q", key)
		}
		return IntID(n), nil
	case "s":
		return StringID(rest), nil
	default:
		return ID{}, fmt.Errorf("delegatekit: unknown id key prefix %q", key)
	}
}

// MarshalJSON encodes integer ids as JSON numbers and string ids as JSON
// strings, so the kind survives a round trip through the cache.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case IDInt:
		return json.Marshal(id.i)
	case IDString:
		return json.Marshal(id.s)
	default:
		return nil, fmt.Errorf("delegatekit: cannot marshal zero id")
	}
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("delegatekit: id must be a JSON number or string: %w", err)
	}
	*id = IntID(n)
	return nil
}

// normalizeIDs converts a slice of dynamically-typed ids into a
// deduplicated ID slice, preserving first-seen order. Empty strings are
// silently dropped; values that are neither integer nor string fail with
// ErrInvalidScope.
func normalizeIDs(values []any) ([]ID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]ID, 0, len(values))
	seen := make(map[ID]struct{}, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		id, err := NewID(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// idKeys returns the Key form of every id, in order.
func idKeys(ids []ID) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.Key()
	}
	return keys
}
