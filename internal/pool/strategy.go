package pool

import (
	"fmt"

	"github.com/instant-demo/smake/internal/domain"
)

// Strategy decides the desired pool composition and how to react when an
// instance leaves the pool.
type Strategy interface {
	// RequiredInstances returns the desired inventory.
	RequiredInstances() []domain.Requirement

	// NotifyOfRemoval is called after an instance of the given type was
	// allocated out of the pool. It returns what should be created in its place.
	NotifyOfRemoval(instanceType string) domain.ReplacementRequest
}

// NaiveStrategy keeps a fixed inventory and replaces one-for-one.
type NaiveStrategy struct {
	required []domain.Requirement
}

// NewNaiveStrategy creates a strategy with a fixed inventory.
func NewNaiveStrategy(required []domain.Requirement) *NaiveStrategy {
	cp := make([]domain.Requirement, len(required))
	copy(cp, required)
	return &NaiveStrategy{required: cp}
}

// RequiredInstances returns a copy of the configured inventory.
func (s *NaiveStrategy) RequiredInstances() []domain.Requirement {
	cp := make([]domain.Requirement, len(s.required))
	copy(cp, s.required)
	return cp
}

// NotifyOfRemoval always asks for exactly one instance of the removed type.
func (s *NaiveStrategy) NotifyOfRemoval(instanceType string) domain.ReplacementRequest {
	return domain.ReplacementRequest{InstanceType: instanceType, Count: 1}
}

// NewStrategy builds the named strategy over an inventory string
// ("type=count,type=count").
func NewStrategy(name, targets string) (Strategy, error) {
	required, err := domain.ParseInventory(targets)
	if err != nil {
		return nil, err
	}
	switch name {
	case "naive", "":
		return NewNaiveStrategy(required), nil
	default:
		return nil, fmt.Errorf("unknown pooling strategy %q", name)
	}
}

// Compile-time check that NaiveStrategy implements Strategy
var _ Strategy = (*NaiveStrategy)(nil)
