package domain

import (
	"fmt"
	"time"
)

// InstanceState represents the provider-reported lifecycle state of an instance.
type InstanceState string

const (
	StatePending      InstanceState = "pending"       // Launched, not yet running
	StateRunning      InstanceState = "running"       // Booted and reachable by the provider
	StateShuttingDown InstanceState = "shutting-down" // Termination in progress
	StateStopping     InstanceState = "stopping"      // Stop in progress
	StateStopped      InstanceState = "stopped"       // Stopped, can be started again
	StateTerminated   InstanceState = "terminated"    // Gone; the id is never reused
)

// Tag schema. These two tags are the only state smake persists.
const (
	TagPool            = "smake"
	TagPoolValue       = "pool"
	TagTerminationTime = "Termination Time"
)

// Tags maps tag keys to values on a provider instance.
type Tags map[string]string

// PoolTags returns the tag set that marks an instance as a pool member.
func PoolTags() Tags {
	return Tags{TagPool: TagPoolValue}
}

// Clone returns a copy of the tag set.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Instance is one provider compute resource managed by smake.
type Instance struct {
	ID           string        `json:"id"`
	InstanceType string        `json:"instance_type"`
	State        InstanceState `json:"state"`
	Tags         Tags          `json:"tags"`
	LaunchTime   time.Time     `json:"launch_time"`
}

// InPool reports whether the instance carries the pool-membership marker.
func (i *Instance) InPool() bool {
	return i.Tags[TagPool] == TagPoolValue
}

// TerminationTime returns the deadline stored in the TTL tag.
// ok is false when the instance has no TTL tag.
func (i *Instance) TerminationTime() (deadline time.Time, ok bool, err error) {
	raw, ok := i.Tags[TagTerminationTime]
	if !ok {
		return time.Time{}, false, nil
	}
	deadline, err = ParseTerminationTime(raw)
	if err != nil {
		return time.Time{}, true, err
	}
	return deadline, true, nil
}

// FormatTerminationTime serializes a deadline for the TTL tag.
func FormatTerminationTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTerminationTime parses a TTL tag value.
func ParseTerminationTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad termination time %q", ErrInvalidTTL, raw)
	}
	return t, nil
}

// InstanceStatus is the reachability report for a single instance.
type InstanceStatus struct {
	ID           string        `json:"id"`
	State        InstanceState `json:"state"`
	Reachability string        `json:"reachability"` // ok, impaired, initializing, insufficient-data, not-applicable
}

// LaunchSpec is everything the provider needs to run one instance.
type LaunchSpec struct {
	ImageID      string
	InstanceType string
	KeyName      string
	ClientToken  string // Idempotency token, unique per launch
}
