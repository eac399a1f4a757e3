// Package registry owns the process-wide set of broadcast destinations and
// staff identities.
//
// All access goes through Store. The Registry value handed to WithLock
// callbacks must not escape the callback.
package registry

import "slices"

// Registry is the in-memory state. Destinations keep subscription order so
// "send to all" walks them deterministically.
type Registry struct {
	destinations []int64
	staff        []int64
	dirty        bool
}

func newRegistry(groups, staff []int64) *Registry {
	r := &Registry{}
	for _, id := range groups {
		r.destinations = appendUnique(r.destinations, id)
	}
	for _, id := range staff {
		r.staff = appendUnique(r.staff, id)
	}
	return r
}

// Destinations returns a copy.
func (r *Registry) Destinations() []int64 { return slices.Clone(r.destinations) }

func (r *Registry) HasDestination(id int64) bool { return slices.Contains(r.destinations, id) }

// AddDestination reports whether id was added. Adding a present id is a no-op.
func (r *Registry) AddDestination(id int64) bool {
	if r.HasDestination(id) {
		return false
	}
	r.destinations = append(r.destinations, id)
	r.dirty = true
	return true
}

// RemoveDestination reports whether id was removed. Removing an absent id is a no-op.
func (r *Registry) RemoveDestination(id int64) bool {
	i := slices.Index(r.destinations, id)
	if i < 0 {
		return false
	}
	r.destinations = slices.Delete(r.destinations, i, i+1)
	r.dirty = true
	return true
}

// ReplaceDestination drops from (if present) and adds to (if absent). It reports
// whether anything changed.
func (r *Registry) ReplaceDestination(from, to int64) bool {
	removed := r.RemoveDestination(from)
	added := r.AddDestination(to)
	return removed || added
}

func (r *Registry) IsStaff(id int64) bool { return slices.Contains(r.staff, id) }

func (r *Registry) AddStaff(id int64) bool {
	if r.IsStaff(id) {
		return false
	}
	r.staff = append(r.staff, id)
	r.dirty = true
	return true
}

func (r *Registry) Staff() []int64 { return slices.Clone(r.staff) }

// MarkDirty forces the next persistence cycle to write.
func (r *Registry) MarkDirty() { r.dirty = true }

func (r *Registry) Dirty() bool { return r.dirty }

func appendUnique(s []int64, id int64) []int64 {
	if slices.Contains(s, id) {
		return s
	}
	return append(s, id)
}
