package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/internal/domain"
	"github.com/instant-demo/smake/internal/metrics"
	"github.com/instant-demo/smake/internal/pool"
	"github.com/instant-demo/smake/pkg/logging"
)

// TagWriter applies and removes instance tags.
// Implementation: metadata.Store.
type TagWriter interface {
	ApplyTags(ctx context.Context, id string, tags domain.Tags) (string, error)
	RemoveTags(ctx context.Context, id string, keys []string) (string, error)
}

// TTLSetter schedules instance termination.
// Implementation: ttl.Scheduler.
type TTLSetter interface {
	AddTTL(ctx context.Context, id string, hours int) (time.Time, error)
}

// Handler holds the HTTP handlers and dependencies.
type Handler struct {
	cfg     *config.Config
	manager pool.Manager
	tags    TagWriter
	ttl     TTLSetter
	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewHandler creates a new API handler.
func NewHandler(
	cfg *config.Config,
	manager pool.Manager,
	tags TagWriter,
	ttl TTLSetter,
	logger *logging.Logger,
	m *metrics.Collector,
) *Handler {
	return &Handler{
		cfg:     cfg,
		manager: manager,
		tags:    tags,
		ttl:     ttl,
		logger:  logger.With("component", "api"),
		metrics: m,
	}
}

// Router returns the configured Gin router.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(h.logger))
	r.Use(RequestMetrics(h.metrics))

	r.GET("/health", h.health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.Use(APIKeyAuth(h.cfg.Auth.APIKey))
	{
		instances := v1.Group("/instances")
		{
			instances.POST("", h.createInstance)
			instances.GET("", h.listInstances)
			instances.GET("/:id", h.getInstance)
			instances.DELETE("/:id", h.terminateInstance)
			instances.POST("/:id/tags", h.applyTags)
			instances.DELETE("/:id/tags", h.removeTags)
			instances.PUT("/:id/ttl", h.setTTL)
		}

		pools := v1.Group("/pool")
		{
			pools.GET("", h.poolStats)
			pools.POST("/reconcile", h.reconcile)
			pools.POST("/:type/acquire", h.acquire)
		}
	}

	return r
}

// health reports liveness, provider mode and the reconciliation cycle state.
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"provider":  h.cfg.Provider.Mode,
		"reconcile": string(h.manager.State()),
	})
}

// createInstance launches one instance outside the pool.
func (h *Handler) createInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.TTLHours < 0 {
		writeError(c, fmt.Errorf("%w: ttl_hours must be positive", domain.ErrInvalidTTL))
		return
	}

	ctx := c.Request.Context()
	id, err := h.manager.Launch(ctx, req.InstanceType, domain.Tags(req.Tags))
	if err != nil {
		writeInstanceError(c, id, err)
		return
	}

	resp := CreateInstanceResponse{ID: id}
	if req.TTLHours > 0 {
		deadline, err := h.ttl.AddTTL(ctx, id, req.TTLHours)
		if err != nil {
			h.logger.WithContext(ctx).Error("instance launched without ttl", "instanceID", id, "error", err)
			writeInstanceError(c, id, err)
			return
		}
		resp.TerminationTime = &deadline
	}

	c.JSON(http.StatusCreated, resp)
}

// listInstances returns instances matching the query filters.
func (h *Handler) listInstances(c *gin.Context) {
	filters, err := parseListFilters(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	instances, err := h.manager.ListInstances(c.Request.Context(), filters...)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ListResponse{Instances: make([]InstanceResponse, 0, len(instances)), Count: len(instances)}
	for i := range instances {
		resp.Instances = append(resp.Instances, toInstanceResponse(&instances[i], nil))
	}
	c.JSON(http.StatusOK, resp)
}

// parseListFilters reads instance_type, state and repeated tag=key[=value].
func parseListFilters(c *gin.Context) ([]domain.Filter, error) {
	var filters []domain.Filter
	if t := c.Query("instance_type"); t != "" {
		filters = append(filters, domain.TypeFilter(t))
	}
	if s := c.Query("state"); s != "" {
		filters = append(filters, domain.StateFilter(domain.InstanceState(s)))
	}
	for _, tag := range c.QueryArray("tag") {
		key, value, hasValue := strings.Cut(tag, "=")
		if key == "" {
			return nil, errors.New("tag filter needs a key")
		}
		if hasValue {
			filters = append(filters, domain.TagFilter(key, value))
		} else {
			filters = append(filters, domain.TagKeyFilter(key))
		}
	}
	return filters, nil
}

// getInstance returns one instance with its reachability status.
func (h *Handler) getInstance(c *gin.Context) {
	inst, status, err := h.manager.DescribeInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(inst, status))
}

// terminateInstance terminates an instance. The provider acknowledges
// termination before the instance is gone, hence 202.
func (h *Handler) terminateInstance(c *gin.Context) {
	id := c.Param("id")
	if err := h.manager.Terminate(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "terminating"})
}

// applyTags writes tags on an existing instance.
func (h *Handler) applyTags(c *gin.Context) {
	var req TagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, _, err := h.manager.DescribeInstance(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.tags.ApplyTags(ctx, id, domain.Tags(req.Tags)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// removeTags deletes tag keys from an existing instance.
func (h *Handler) removeTags(c *gin.Context) {
	var req RemoveTagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, _, err := h.manager.DescribeInstance(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	if _, err := h.tags.RemoveTags(ctx, id, req.Keys); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// setTTL schedules termination hours from now, replacing any earlier deadline.
func (h *Handler) setTTL(c *gin.Context) {
	var req TTLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if _, _, err := h.manager.DescribeInstance(ctx, id); err != nil {
		writeError(c, err)
		return
	}
	deadline, err := h.ttl.AddTTL(ctx, id, req.TTLHours)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, TTLResponse{ID: id, TerminationTime: deadline})
}

// acquire allocates one pooled instance of the requested type.
func (h *Handler) acquire(c *gin.Context) {
	// The body is optional and may arrive chunked.
	var req AcquireRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
	}
	hours := req.TTLHours
	if hours == 0 {
		hours = h.cfg.TTL.AllocationHours
	}
	if hours < 0 {
		writeError(c, fmt.Errorf("%w: ttl_hours must be positive", domain.ErrInvalidTTL))
		return
	}

	ctx := c.Request.Context()
	inst, err := h.manager.GetInstance(ctx, c.Param("type"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toInstanceResponse(inst, nil)
	if hours > 0 {
		deadline, err := h.ttl.AddTTL(ctx, inst.ID, hours)
		if err != nil {
			// The instance is already out of the pool; hand it over without a deadline.
			h.logger.WithContext(ctx).Error("allocated instance has no ttl", "instanceID", inst.ID, "error", err)
		} else {
			resp.TerminationTime = &deadline
		}
	}

	c.JSON(http.StatusOK, resp)
}

// poolStats returns pool members per type against the desired inventory.
func (h *Handler) poolStats(c *gin.Context) {
	stats, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PoolResponse{State: string(h.manager.State()), Types: stats})
}

// reconcile runs one reconciliation cycle against the strategy's inventory.
func (h *Handler) reconcile(c *gin.Context) {
	diff, err := h.manager.Reconcile(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{
		Diff:     diff,
		Creates:  diff.Creates(),
		Destroys: diff.Destroys(),
	})
}
