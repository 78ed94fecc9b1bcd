package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/hsc/registry-server/pkg/api/response"
	"github.com/hsc/registry-server/pkg/cluster"
	"github.com/hsc/registry-server/pkg/engine"
	"github.com/hsc/registry-server/pkg/eventbus"
)

// ClusterHandler handles inbound replication and cluster membership
// endpoints. It is a no-op (responding 503) when the engine was built
// without clustering enabled.
type ClusterHandler struct {
	engine *engine.Engine
}

// NewClusterHandler creates a new cluster handler.
func NewClusterHandler(eng *engine.Engine) *ClusterHandler {
	return &ClusterHandler{engine: eng}
}

// HandleEvent handles POST /api/v1/cluster/events, the inbound
// replication endpoint peers POST locally-originated events to.
func (h *ClusterHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	syncer := h.engine.ClusterSync()
	if syncer == nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "clustering is not enabled")
		return
	}

	var evt eventbus.ServiceEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, "request body is not a valid cluster event")
		return
	}

	if err := syncer.HandleClusterEvent(evt, ""); err != nil {
		response.Error(w, r, http.StatusInternalServerError, response.ErrCodeRegistry, err.Error())
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// Status handles GET /api/v1/cluster/status.
func (h *ClusterHandler) Status(w http.ResponseWriter, r *http.Request) {
	mgr := h.engine.Cluster()
	if mgr == nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "clustering is not enabled")
		return
	}
	response.JSON(w, http.StatusOK, mgr.Status())
}

// Nodes handles GET /api/v1/cluster/nodes.
func (h *ClusterHandler) Nodes(w http.ResponseWriter, r *http.Request) {
	mgr := h.engine.Cluster()
	if mgr == nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "clustering is not enabled")
		return
	}
	response.JSON(w, http.StatusOK, mgr.Status().Nodes)
}

// CurrentNode handles GET /api/v1/cluster/current-node.
func (h *ClusterHandler) CurrentNode(w http.ResponseWriter, r *http.Request) {
	mgr := h.engine.Cluster()
	if mgr == nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "clustering is not enabled")
		return
	}
	status := mgr.Status()
	for _, node := range status.Nodes {
		if node.NodeID == status.CurrentNode {
			response.JSON(w, http.StatusOK, node)
			return
		}
	}
	response.Error(w, r, http.StatusNotFound, response.ErrCodeNotFound, "current node not found in membership table")
}

// Health handles GET /api/v1/cluster/health.
func (h *ClusterHandler) Health(w http.ResponseWriter, r *http.Request) {
	mgr := h.engine.Cluster()
	if mgr == nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "clustering is not enabled")
		return
	}

	status := mgr.Status()
	payload := map[string]any{
		"healthy":      !mgr.NeedsFailover(),
		"totalNodes":   status.TotalNodes,
		"healthyNodes": status.HealthyNodes,
		"leaderNodeId": status.LeaderNodeID,
	}
	if mgr.NeedsFailover() {
		response.JSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	response.JSON(w, http.StatusOK, payload)
}

// joinRequest is the body of a join request.
type joinRequest struct {
	NodeID string `json:"nodeId"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// Join handles POST /api/v1/cluster/join.
func (h *ClusterHandler) Join(w http.ResponseWriter, r *http.Request) {
	mgr := h.engine.Cluster()
	if mgr == nil {
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "clustering is not enabled")
		return
	}

	var body joinRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, "request body is not valid JSON")
		return
	}
	if body.NodeID == "" {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, "nodeId is required")
		return
	}

	node := cluster.ClusterNode{
		NodeID: body.NodeID,
		Host:   body.Host,
		Port:   body.Port,
		Status: cluster.NodeStarting,
	}
	if err := mgr.AddNode(node); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, err.Error())
		return
	}

	response.JSON(w, http.StatusOK, mgr.Status())
}
