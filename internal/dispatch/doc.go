// Package dispatch delivers resolved net changes to node handlers once per
// commit. Each node runs inside a fresh Scope for the duration of one
// dispatch cycle.
package dispatch
