package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestComputeDiff(t *testing.T) {
	tests := []struct {
		name     string
		required []Requirement
		snapshot PoolSnapshot
		want     Diff
	}{
		{
			name:     "one type missing, one satisfied",
			required: []Requirement{{"small", 1}, {"medium", 1}},
			snapshot: PoolSnapshot{"medium": {Running: []string{"i-1"}}},
			want:     Diff{"small": 1, "medium": 0},
		},
		{
			name:     "pending counts toward current",
			required: []Requirement{{"small", 2}},
			snapshot: PoolSnapshot{"small": {Running: []string{"i-1"}, Pending: []string{"i-2"}}},
			want:     Diff{"small": 0},
		},
		{
			name:     "surplus is negative",
			required: []Requirement{{"small", 1}},
			snapshot: PoolSnapshot{"small": {Running: []string{"i-1", "i-2", "i-3"}}},
			want:     Diff{"small": -2},
		},
		{
			name:     "undesired types are ignored",
			required: []Requirement{{"small", 1}},
			snapshot: PoolSnapshot{"small": {Running: []string{"i-1"}}, "large": {Running: []string{"i-9"}}},
			want:     Diff{"small": 0},
		},
		{
			name:     "repeated requirement entries are summed",
			required: []Requirement{{"small", 1}, {"small", 2}},
			snapshot: PoolSnapshot{},
			want:     Diff{"small": 3},
		},
		{
			name:     "zero desired against existing pool",
			required: []Requirement{{"small", 0}},
			snapshot: PoolSnapshot{"small": {Pending: []string{"i-1"}}},
			want:     Diff{"small": -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDiff(tt.required, tt.snapshot)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ComputeDiff() = %v, want %v", got, tt.want)
			}
			for instanceType, delta := range got {
				desired := Desired(tt.required)[instanceType]
				if delta != desired-tt.snapshot.Count(instanceType) {
					t.Errorf("diff[%s] = %d, want desired-current = %d", instanceType, delta, desired-tt.snapshot.Count(instanceType))
				}
			}
		})
	}
}

func TestDiff_CreatesDestroys(t *testing.T) {
	d := Diff{"a": 2, "b": -3, "c": 0, "d": 1}
	if d.Creates() != 3 {
		t.Errorf("Creates() = %d, want 3", d.Creates())
	}
	if d.Destroys() != 3 {
		t.Errorf("Destroys() = %d, want 3", d.Destroys())
	}
}

func TestParseInventory(t *testing.T) {
	tests := []struct {
		raw     string
		want    []Requirement
		wantErr bool
	}{
		{raw: "t3.small=1,t3.medium=1", want: []Requirement{{"t3.small", 1}, {"t3.medium", 1}}},
		{raw: " small = 2 , ", want: []Requirement{{"small", 2}}},
		{raw: "", want: nil},
		{raw: "small", wantErr: true},
		{raw: "=1", wantErr: true},
		{raw: "small=-1", wantErr: true},
		{raw: "small=x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseInventory(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInventory) {
					t.Fatalf("ParseInventory(%q) error = %v, want ErrInvalidInventory", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInventory(%q) error = %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseInventory(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTypeSnapshot_Candidates(t *testing.T) {
	ts := TypeSnapshot{Running: []string{"r1", "r2"}, Pending: []string{"p1"}}
	want := []string{"r1", "r2", "p1"}
	if got := ts.Candidates(); !reflect.DeepEqual(got, want) {
		t.Errorf("Candidates() = %v, want %v", got, want)
	}
	if ts.Total() != 3 {
		t.Errorf("Total() = %d, want 3", ts.Total())
	}
}

func TestPoolSnapshot_Stats(t *testing.T) {
	snap := PoolSnapshot{
		"small": {Running: []string{"i-1"}},
		"large": {Pending: []string{"i-2"}},
	}
	got := snap.Stats([]Requirement{{"small", 2}, {"medium", 1}})
	want := []PoolStats{
		{InstanceType: "large", Pending: 1},
		{InstanceType: "medium", Desired: 1},
		{InstanceType: "small", Running: 1, Desired: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Stats() = %+v, want %+v", got, want)
	}
	if got[2].Deficit() != 1 {
		t.Errorf("small Deficit() = %d, want 1", got[2].Deficit())
	}
	if got[0].Deficit() != -1 {
		t.Errorf("large Deficit() = %d, want -1", got[0].Deficit())
	}
}
