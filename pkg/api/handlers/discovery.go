package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hsc/registry-server/pkg/api/response"
	"github.com/hsc/registry-server/pkg/discovery"
	"github.com/hsc/registry-server/pkg/engine"
)

// DiscoveryHandler handles the read-only service discovery endpoints.
type DiscoveryHandler struct {
	engine *engine.Engine
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(eng *engine.Engine) *DiscoveryHandler {
	return &DiscoveryHandler{engine: eng}
}

// GetInstances handles
// GET /api/v1/discovery/services/{serviceId}/instances?healthyOnly&status&zone&version.
func (h *DiscoveryHandler) GetInstances(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	filter := discovery.Filter{
		HealthyOnly: r.URL.Query().Get("healthyOnly") == "true",
		Status:      r.URL.Query().Get("status"),
		Zone:        r.URL.Query().Get("zone"),
		Version:     r.URL.Query().Get("version"),
	}

	view, err := h.engine.Discovery().DiscoverFiltered(serviceID, filter)
	if err != nil {
		writeDiscoveryError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, view)
}

// GetHealthyInstances handles GET /api/v1/discovery/services/{serviceId}/healthy-instances.
func (h *DiscoveryHandler) GetHealthyInstances(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")

	view, err := h.engine.Discovery().DiscoverHealthy(serviceID)
	if err != nil {
		writeDiscoveryError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, view)
}

// GetCatalog handles GET /api/v1/discovery/catalog?healthyOnly.
func (h *DiscoveryHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	healthyOnly := r.URL.Query().Get("healthyOnly") == "true"
	catalog := h.engine.Discovery().GetCatalog(healthyOnly)
	response.JSON(w, http.StatusOK, catalog)
}

// GetServices handles GET /api/v1/discovery/services.
func (h *DiscoveryHandler) GetServices(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string][]string{
		"services": h.engine.Discovery().GetServices(),
	})
}

func writeDiscoveryError(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := err.(*discovery.ErrInvalidServiceID); ok {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, err.Error())
		return
	}
	response.Error(w, r, http.StatusInternalServerError, response.ErrCodeRegistry, err.Error())
}
