package registry

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/Zyzgsfi/agentpay"
)

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Name     string   `json:"name"`
	Services []string `json:"services"`
	Address  string   `json:"address"`
	Endpoint string   `json:"endpoint,omitempty"`
}

// RegisterResponse answers POST /register.
type RegisterResponse struct {
	Success bool        `json:"success"`
	Agent   AgentRecord `json:"agent"`
	Message string      `json:"message"`
}

// ListResponse answers GET /.
type ListResponse struct {
	Agents []AgentRecord `json:"agents"`
	Total  int           `json:"total"`
}

// HeartbeatResponse answers POST /:id/heartbeat.
type HeartbeatResponse struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	LastSeen time.Time `json:"lastSeen"`
}

// ReputationRequest is the body of POST /:id/reputation.
type ReputationRequest struct {
	Change int    `json:"change"`
	Reason string `json:"reason"`
}

// ReputationResponse answers POST /:id/reputation.
type ReputationResponse struct {
	Success bool        `json:"success"`
	Agent   AgentRecord `json:"agent"`
	Reason  string      `json:"reason"`
	Message string      `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the agent directory API.
type Handler struct {
	registry *Registry
}

// NewHandler creates a Handler for registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Register mounts the directory routes on r, typically a group such as /api/agents.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/register", h.register)
	r.GET("/", h.list)
	r.GET("/:id", h.get)
	r.POST("/:id/heartbeat", h.heartbeat)
	r.POST("/:id/reputation", h.reputation)
}

func (h *Handler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Missing required fields"})
		return
	}
	if !validEndpoint(strings.TrimSpace(req.Endpoint)) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid endpoint"})
		return
	}
	record, err := h.registry.Register(c.Request.Context(), req.Name, req.Services, req.Address, WithEndpoint(req.Endpoint))
	if err != nil {
		if errors.Is(err, ErrInvalidAgent) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "Missing required fields"})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to register agent"})
		return
	}
	c.JSON(http.StatusOK, RegisterResponse{Success: true, Agent: record, Message: "Agent registered successfully"})
}

func (h *Handler) get(c *gin.Context) {
	record, err := h.registry.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) list(c *gin.Context) {
	agents, err := h.registry.List(c.Request.Context(), c.Query("service"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse{Agents: agents, Total: len(agents)})
}

func (h *Handler) heartbeat(c *gin.Context) {
	record, err := h.registry.Heartbeat(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, HeartbeatResponse{Success: true, Message: "Heartbeat updated", LastSeen: record.LastSeen})
}

func (h *Handler) reputation(c *gin.Context) {
	var req ReputationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid reputation change"})
		return
	}
	record, err := h.registry.AdjustReputation(c.Request.Context(), c.Param("id"), req.Change)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ReputationResponse{Success: true, Agent: record, Reason: req.Reason, Message: "Reputation updated"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, x402.ErrAgentNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Agent not found"})
		return
	}
	h.registry.logger.Error("registry operation failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "Registry unavailable"})
}
