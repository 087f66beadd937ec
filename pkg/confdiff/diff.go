// Package confdiff computes field-level differences between two connector
// configurations, for review screens and deploy audit records.
package confdiff

import (
	"reflect"
	"sort"
)

// Entry describes one changed field. A field present on only one side has
// the other side's value nil and the matching Present flag false, so a
// genuine nil value can be told apart from an absent key.
type Entry struct {
	Field      string `json:"field"`
	OldValue   any    `json:"old_value"`
	NewValue   any    `json:"new_value"`
	OldPresent bool   `json:"old_present"`
	NewPresent bool   `json:"new_present"`
}

// Diff returns the symmetric difference of old and new over the union of
// their keys. Equality is structural (reflect.DeepEqual), not reference.
// Entries are sorted by field name so output is deterministic.
func Diff(oldConfig, newConfig map[string]any) []Entry {
	keys := make(map[string]struct{}, len(oldConfig)+len(newConfig))
	for k := range oldConfig {
		keys[k] = struct{}{}
	}
	for k := range newConfig {
		keys[k] = struct{}{}
	}

	entries := make([]Entry, 0)
	for k := range keys {
		oldVal, oldOK := oldConfig[k]
		newVal, newOK := newConfig[k]
		if oldOK && newOK && reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		entries = append(entries, Entry{
			Field:      k,
			OldValue:   oldVal,
			NewValue:   newVal,
			OldPresent: oldOK,
			NewPresent: newOK,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Field < entries[j].Field })
	return entries
}

// Equal reports whether two configs are structurally identical.
func Equal(a, b map[string]any) bool {
	return len(Diff(a, b)) == 0
}

// Redact returns a copy of entries with the old and new values of every
// field matched by sensitive replaced by placeholder. Absent sides and
// non-string values pass through. Redaction happens after diffing, so a
// rotated secret still shows up as a change even though both values
// render as the placeholder.
func Redact(entries []Entry, sensitive func(string) bool, placeholder string) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	for i := range out {
		if !sensitive(out[i].Field) {
			continue
		}
		if s, ok := out[i].OldValue.(string); ok && s != "" {
			out[i].OldValue = placeholder
		}
		if s, ok := out[i].NewValue.(string); ok && s != "" {
			out[i].NewValue = placeholder
		}
	}
	return out
}
