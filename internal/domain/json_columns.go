package domain

import "gorm.io/datatypes"

// Metadata is a free-form map stored as a JSON column.
type Metadata = datatypes.JSONMap

// SessionIDList is an ordered list of session ids stored as a JSON column,
// oldest first.
type SessionIDList = datatypes.JSONSlice[string]

// MergeMetadata returns a copy of m with the given key/value pairs set.
func MergeMetadata(m Metadata, kv ...string) Metadata {
	out := make(Metadata, len(m)+len(kv)/2)
	for k, v := range m {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// MetadataString reads a string value, returning "" when absent or not a string.
func MetadataString(m Metadata, key string) string {
	v, _ := m[key].(string)
	return v
}
