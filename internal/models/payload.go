// internal/models/payload.go
package models

import "encoding/json"

// Payload is an opaque key->value document: task configs, results, pattern
// metadata and relationship properties all use it. Values must stay
// JSON-serializable; persistence round-trips payloads through JSON, so
// numeric values normalize to float64 on the way back.
type Payload map[string]any

// Clone returns a deep copy of the payload via a JSON round trip. A nil
// payload clones to nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		// Payloads are documents by contract; fall back to a shallow copy
		// for anything unmarshalable rather than dropping keys.
		cp := make(Payload, len(p))
		for k, v := range p {
			cp[k] = v
		}
		return cp
	}
	var cp Payload
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil
	}
	return cp
}

// Merge returns a new payload with overrides applied on top of p. The merge
// is shallow: an override key replaces the base value wholesale.
func (p Payload) Merge(overrides Payload) Payload {
	merged := p.Clone()
	if merged == nil {
		merged = Payload{}
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Number reads a numeric value, tolerating the int/int64/float64 variants
// that JSON decoding and in-process construction produce.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
