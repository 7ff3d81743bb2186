package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TypeSnapshot lists the pool members of one instance type, split by state.
type TypeSnapshot struct {
	Running []string `json:"running"`
	Pending []string `json:"pending"`
}

// Total returns how many pool members of this type exist.
func (t TypeSnapshot) Total() int {
	return len(t.Running) + len(t.Pending)
}

// Candidates returns running ids followed by pending ids.
func (t TypeSnapshot) Candidates() []string {
	out := make([]string, 0, t.Total())
	out = append(out, t.Running...)
	return append(out, t.Pending...)
}

// PoolSnapshot is a point-in-time view of pool members keyed by instance type.
// It is stale as soon as it is built.
type PoolSnapshot map[string]TypeSnapshot

// Count returns the number of pool members of the given type.
func (s PoolSnapshot) Count(instanceType string) int {
	return s[instanceType].Total()
}

// Types returns the instance types present, sorted.
func (s PoolSnapshot) Types() []string {
	types := make([]string, 0, len(s))
	for t := range s {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Requirement is one entry of a desired inventory.
type Requirement struct {
	InstanceType string `json:"instance_type"`
	Count        int    `json:"count"`
}

// ParseInventory parses "type=count,type=count" preserving order.
// Repeated types are kept as separate entries; ComputeDiff sums them.
func ParseInventory(raw string) ([]Requirement, error) {
	var out []Requirement
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, countStr, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: entry %q must be type=count", ErrInvalidInventory, part)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: bad count in %q", ErrInvalidInventory, part)
		}
		out = append(out, Requirement{InstanceType: name, Count: count})
	}
	return out, nil
}

// Desired folds an ordered inventory into per-type totals.
func Desired(required []Requirement) map[string]int {
	desired := make(map[string]int, len(required))
	for _, r := range required {
		desired[r.InstanceType] += r.Count
	}
	return desired
}

// Diff is the per-type signed delta desired - current.
// Positive means create that many, negative means destroy that many.
type Diff map[string]int

// ComputeDiff returns the diff for every type named in required.
// Types that only appear in the snapshot are left out.
func ComputeDiff(required []Requirement, snapshot PoolSnapshot) Diff {
	diff := make(Diff)
	for instanceType, count := range Desired(required) {
		diff[instanceType] = count - snapshot.Count(instanceType)
	}
	return diff
}

// Creates returns the total number of instances the diff asks to create.
func (d Diff) Creates() int {
	n := 0
	for _, delta := range d {
		if delta > 0 {
			n += delta
		}
	}
	return n
}

// Destroys returns the total number of instances the diff asks to terminate.
func (d Diff) Destroys() int {
	n := 0
	for _, delta := range d {
		if delta < 0 {
			n -= delta
		}
	}
	return n
}

// ReplacementRequest is what a pooling strategy asks for after an instance leaves the pool.
type ReplacementRequest struct {
	InstanceType string `json:"instance_type"`
	Count        int    `json:"count"`
}

// PoolStats summarizes one instance type of the pool against its target.
type PoolStats struct {
	InstanceType string `json:"instance_type"`
	Running      int    `json:"running"`
	Pending      int    `json:"pending"`
	Desired      int    `json:"desired"`
}

// Deficit returns how many instances are missing, or a negative surplus.
func (s PoolStats) Deficit() int {
	return s.Desired - s.Running - s.Pending
}

// Stats reports every type that is either desired or present, sorted by type.
func (s PoolSnapshot) Stats(required []Requirement) []PoolStats {
	desired := Desired(required)
	seen := make(map[string]bool)
	var types []string
	for t := range desired {
		seen[t] = true
		types = append(types, t)
	}
	for t := range s {
		if !seen[t] {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	out := make([]PoolStats, 0, len(types))
	for _, t := range types {
		ts := s[t]
		out = append(out, PoolStats{
			InstanceType: t,
			Running:      len(ts.Running),
			Pending:      len(ts.Pending),
			Desired:      desired[t],
		})
	}
	return out
}
