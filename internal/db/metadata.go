package db

import "encoding/json"

// Metadata is the open string-keyed bag attached to sections, bullets, and
// revisions. It round-trips through a JSON TEXT column; encoding/json sorts
// map keys, so the serialized form inside a revision stays deterministic.
type Metadata map[string]any

func (m Metadata) encode() string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMetadata(raw string) Metadata {
	if raw == "" {
		return Metadata{}
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m == nil {
		return Metadata{}
	}
	return m
}

// merge returns a copy of m with overlay applied on top; overlay keys
// overwrite on conflict.
func (m Metadata) merge(overlay Metadata) Metadata {
	out := make(Metadata, len(m)+len(overlay))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
