package api

import (
	"time"

	"github.com/instant-demo/smake/internal/domain"
)

// CreateInstanceRequest is the body of POST /instances.
type CreateInstanceRequest struct {
	InstanceType string            `json:"instance_type" binding:"required"`
	Tags         map[string]string `json:"tags,omitempty"`
	TTLHours     int               `json:"ttl_hours,omitempty"`
}

// CreateInstanceResponse is returned for a launched instance.
type CreateInstanceResponse struct {
	ID              string     `json:"id"`
	TerminationTime *time.Time `json:"termination_time,omitempty"`
}

// AcquireRequest is the optional body of POST /pool/:type/acquire.
type AcquireRequest struct {
	TTLHours int `json:"ttl_hours,omitempty"`
}

// TagsRequest is the body of POST /instances/:id/tags.
type TagsRequest struct {
	Tags map[string]string `json:"tags" binding:"required"`
}

// RemoveTagsRequest is the body of DELETE /instances/:id/tags.
type RemoveTagsRequest struct {
	Keys []string `json:"keys" binding:"required"`
}

// TTLRequest is the body of PUT /instances/:id/ttl.
type TTLRequest struct {
	TTLHours int `json:"ttl_hours"`
}

// TTLResponse reports a scheduled termination.
type TTLResponse struct {
	ID              string    `json:"id"`
	TerminationTime time.Time `json:"termination_time"`
}

// InstanceResponse describes one instance.
type InstanceResponse struct {
	ID              string               `json:"id"`
	InstanceType    string               `json:"instance_type"`
	State           domain.InstanceState `json:"state"`
	Tags            domain.Tags          `json:"tags"`
	LaunchTime      time.Time            `json:"launch_time"`
	TerminationTime *time.Time           `json:"termination_time,omitempty"`
	Reachability    string               `json:"reachability,omitempty"`
}

// ListResponse wraps GET /instances.
type ListResponse struct {
	Instances []InstanceResponse `json:"instances"`
	Count     int                `json:"count"`
}

// PoolResponse is returned by GET /pool.
type PoolResponse struct {
	State string             `json:"state"`
	Types []domain.PoolStats `json:"types"`
}

// ReconcileResponse is returned by POST /pool/reconcile.
type ReconcileResponse struct {
	Diff     domain.Diff `json:"diff"`
	Creates  int         `json:"creates"`
	Destroys int         `json:"destroys"`
}

// ErrorResponse is the body of every non-2xx response. ID names an instance
// the failed request launched anyway, so the caller can clean it up.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	ID      string `json:"id,omitempty"`
}

func toInstanceResponse(inst *domain.Instance, status *domain.InstanceStatus) InstanceResponse {
	resp := InstanceResponse{
		ID:           inst.ID,
		InstanceType: inst.InstanceType,
		State:        inst.State,
		Tags:         inst.Tags,
		LaunchTime:   inst.LaunchTime,
	}
	if resp.Tags == nil {
		resp.Tags = domain.Tags{}
	}
	if deadline, ok, err := inst.TerminationTime(); ok && err == nil {
		resp.TerminationTime = &deadline
	}
	if status != nil {
		resp.Reachability = status.Reachability
	}
	return resp
}
