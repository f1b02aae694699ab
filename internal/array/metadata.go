package array

import "maps"

// Metadata maps a group name (a tag namespace such as "exif") to its fields.
type Metadata map[string]map[string]any

// Merge returns a new Metadata holding base overlaid by overlay. Groups are
// merged field by field and overlay wins on collision.
func Merge(base, overlay Metadata) Metadata {
	out := make(Metadata, len(base)+len(overlay))
	for _, m := range []Metadata{base, overlay} {
		for group, fields := range m {
			dst, ok := out[group]
			if !ok {
				dst = make(map[string]any, len(fields))
				out[group] = dst
			}
			maps.Copy(dst, fields)
		}
	}
	return out
}

// Clone copies the group maps. Field values are shared.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return Merge(nil, m)
}

// Set stores a single field, creating the group when needed.
func (m Metadata) Set(group, field string, value any) {
	g, ok := m[group]
	if !ok {
		g = make(map[string]any)
		m[group] = g
	}
	g[field] = value
}

// Get returns a single field.
func (m Metadata) Get(group, field string) (any, bool) {
	g, ok := m[group]
	if !ok {
		return nil, false
	}
	v, ok := g[field]
	return v, ok
}
