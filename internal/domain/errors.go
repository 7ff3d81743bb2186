package domain

import "errors"

var (
	// ErrProviderQueryFailed is returned when a describe call against the provider fails.
	ErrProviderQueryFailed = errors.New("provider query failed")

	// ErrProviderActionFailed is returned when a create or terminate call fails.
	ErrProviderActionFailed = errors.New("provider action failed")

	// ErrMetadataWriteFailed is returned when a tag write or removal could not be applied.
	ErrMetadataWriteFailed = errors.New("could not tag instance")

	// ErrNoCandidateAvailable is returned when the pool has nothing to allocate for a type.
	ErrNoCandidateAvailable = errors.New("no pooled instance available")

	// ErrInstanceNotFound is returned when the requested instance doesn't exist.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInvalidTTL is returned for non-positive TTLs and unparseable termination tags.
	ErrInvalidTTL = errors.New("invalid ttl")

	// ErrInvalidInventory is returned when a desired inventory cannot be parsed.
	ErrInvalidInventory = errors.New("invalid inventory")

	// ErrReconcileInProgress is returned when a reconciliation cycle is already applying.
	ErrReconcileInProgress = errors.New("reconciliation already in progress")
)
