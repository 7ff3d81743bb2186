package domain

import "strings"

// Filter names follow the EC2 DescribeInstances vocabulary so the EC2 adapter can
// pass them through unchanged. Other adapters evaluate them with Matches.
const (
	FilterTagKey       = "tag-key"
	FilterState        = "instance-state-name"
	FilterInstanceType = "instance-type"
	FilterInstanceID   = "instance-id"
	filterTagPrefix    = "tag:"
)

// Filter restricts a describe call. An instance matches when the named attribute
// equals any of Values.
type Filter struct {
	Name   string
	Values []string
}

// TagFilter matches instances whose tag key has one of the given values.
func TagFilter(key string, values ...string) Filter {
	return Filter{Name: filterTagPrefix + key, Values: values}
}

// TagKeyFilter matches instances carrying any of the given tag keys.
func TagKeyFilter(keys ...string) Filter {
	return Filter{Name: FilterTagKey, Values: keys}
}

// StateFilter matches instances in any of the given states.
func StateFilter(states ...InstanceState) Filter {
	values := make([]string, len(states))
	for i, s := range states {
		values[i] = string(s)
	}
	return Filter{Name: FilterState, Values: values}
}

// TypeFilter matches instances of any of the given types.
func TypeFilter(types ...string) Filter {
	return Filter{Name: FilterInstanceType, Values: types}
}

// IDFilter matches the given instance ids.
func IDFilter(ids ...string) Filter {
	return Filter{Name: FilterInstanceID, Values: ids}
}

// PoolFilters are the filters that select live pool members.
func PoolFilters() []Filter {
	return []Filter{
		TagFilter(TagPool, TagPoolValue),
		StateFilter(StateRunning, StatePending),
	}
}

// Matches reports whether inst satisfies the filter. Unknown filter names never match.
func (f Filter) Matches(inst *Instance) bool {
	switch {
	case f.Name == FilterTagKey:
		for _, key := range f.Values {
			if _, ok := inst.Tags[key]; ok {
				return true
			}
		}
		return false
	case f.Name == FilterState:
		return contains(f.Values, string(inst.State))
	case f.Name == FilterInstanceType:
		return contains(f.Values, inst.InstanceType)
	case f.Name == FilterInstanceID:
		return contains(f.Values, inst.ID)
	case strings.HasPrefix(f.Name, filterTagPrefix):
		value, ok := inst.Tags[strings.TrimPrefix(f.Name, filterTagPrefix)]
		return ok && contains(f.Values, value)
	default:
		return false
	}
}

// MatchesAll reports whether inst satisfies every filter.
func MatchesAll(filters []Filter, inst *Instance) bool {
	for _, f := range filters {
		if !f.Matches(inst) {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
