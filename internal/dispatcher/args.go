package dispatcher

import (
	"github.com/synapdb/synap/internal/typederr"
)

// Payload is the decoded argument bag for one dispatched command: a plain
// map keyed by field name, matching spec §4.7's "(command_tag,
// payload_object)" shape. Wire adapters (HTTP JSON, replication cbor) both
// decode into this same shape before calling Dispatch.
type Payload map[string]any

func missing(field string) error {
	return typederr.Newf(typederr.InvalidValue, "missing required field %q", field)
}

func wrongType(field, want string) error {
	return typederr.Newf(typederr.InvalidValue, "field %q must be a %s", field, want)
}

func reqString(p Payload, field string) (string, error) {
	v, ok := p[field]
	if !ok {
		return "", missing(field)
	}
	s, ok := v.(string)
	if !ok {
		return "", wrongType(field, "string")
	}
	return s, nil
}

func optString(p Payload, field, def string) string {
	if v, ok := p[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func reqBytes(p Payload, field string) ([]byte, error) {
	v, ok := p[field]
	if !ok {
		return nil, missing(field)
	}
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, wrongType(field, "bytes")
	}
}

func toBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	default:
		return nil, false
	}
}

func reqBytesSlice(p Payload, field string) ([][]byte, error) {
	v, ok := p[field]
	if !ok {
		return nil, missing(field)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, wrongType(field, "array")
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		b, ok := toBytes(item)
		if !ok {
			return nil, wrongType(field, "array of bytes")
		}
		out[i] = b
	}
	return out, nil
}

func reqStringSlice(p Payload, field string) ([]string, error) {
	v, ok := p[field]
	if !ok {
		return nil, missing(field)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, wrongType(field, "array")
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, wrongType(field, "array of strings")
		}
		out[i] = s
	}
	return out, nil
}

func reqInt(p Payload, field string) (int64, error) {
	v, ok := p[field]
	if !ok {
		return 0, missing(field)
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case uint64:
		return int64(t), nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	default:
		return 0, wrongType(field, "integer")
	}
}

func optInt(p Payload, field string, def int64) int64 {
	n, err := reqInt(p, field)
	if err != nil {
		return def
	}
	return n
}

func reqFloat(p Payload, field string) (float64, error) {
	v, ok := p[field]
	if !ok {
		return 0, missing(field)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	default:
		return 0, wrongType(field, "number")
	}
}

func optFloat(p Payload, field string, def float64) float64 {
	f, err := reqFloat(p, field)
	if err != nil {
		return def
	}
	return f
}

func optBool(p Payload, field string, def bool) bool {
	if v, ok := p[field]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
