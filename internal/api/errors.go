package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/instant-demo/smake/internal/domain"
)

// writeError maps a domain error onto a status code and error code.
func writeError(c *gin.Context, err error) {
	writeInstanceError(c, "", err)
}

// writeInstanceError is writeError for a request that launched instance id
// before failing. An empty id is omitted.
func writeInstanceError(c *gin.Context, id string, err error) {
	status, code := classify(err)
	c.JSON(status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Details: err.Error(),
		ID:      id,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNoCandidateAvailable):
		return http.StatusNotFound, "NO_CANDIDATE"
	case errors.Is(err, domain.ErrInstanceNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidTTL):
		return http.StatusBadRequest, "INVALID_TTL"
	case errors.Is(err, domain.ErrInvalidInventory):
		return http.StatusBadRequest, "INVALID_INVENTORY"
	case errors.Is(err, domain.ErrReconcileInProgress):
		return http.StatusConflict, "RECONCILE_IN_PROGRESS"
	case errors.Is(err, domain.ErrMetadataWriteFailed):
		return http.StatusBadGateway, "METADATA_WRITE_FAILED"
	case errors.Is(err, domain.ErrProviderQueryFailed), errors.Is(err, domain.ErrProviderActionFailed):
		return http.StatusBadGateway, "PROVIDER_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid request",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
}
