package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hsc/registry-server/pkg/api/response"
	"github.com/hsc/registry-server/pkg/engine"
	"github.com/hsc/registry-server/pkg/registry"
)

// RegistryHandler handles service registration, deregistration, and
// heartbeat endpoints.
type RegistryHandler struct {
	engine *engine.Engine
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(eng *engine.Engine) *RegistryHandler {
	return &RegistryHandler{engine: eng}
}

// registrationRequest is the body of a register request; serviceId is
// taken from the URL. LeaseDurationMillis is expressed in
// milliseconds, converted to a time.Duration before reaching the
// store.
type registrationRequest struct {
	InstanceID          string                      `json:"instanceId"`
	Host                string                      `json:"host"`
	Port                int                         `json:"port"`
	Secure              bool                        `json:"secure"`
	Metadata            map[string]string           `json:"metadata,omitempty"`
	HealthCheck         *registry.HealthCheckConfig `json:"healthCheck,omitempty"`
	LeaseDurationMillis int64                       `json:"leaseDurationMillis,omitempty"`
}

// Register handles POST /api/v1/registry/services/{serviceId}/instances.
func (h *RegistryHandler) Register(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")

	var body registrationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.ErrCodeValidation, "request body is not valid JSON")
		return
	}

	reg := registry.ServiceRegistration{
		ServiceID:     serviceID,
		InstanceID:    body.InstanceID,
		Host:          body.Host,
		Port:          body.Port,
		Secure:        body.Secure,
		Metadata:      body.Metadata,
		HealthCheck:   body.HealthCheck,
		LeaseDuration: time.Duration(body.LeaseDurationMillis) * time.Millisecond,
	}

	inst, err := h.engine.Store().Register(reg)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	h.engine.ScheduleProbe(inst)

	response.JSON(w, http.StatusCreated, inst)
}

// Deregister handles DELETE /api/v1/registry/services/{serviceId}/instances/{instanceId}.
// It is idempotent: removing an instance that does not exist still
// returns 204.
func (h *RegistryHandler) Deregister(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	instanceID := chi.URLParam(r, "instanceId")

	if _, err := h.engine.Store().Deregister(serviceID, instanceID); err != nil {
		writeRegistryError(w, r, err)
		return
	}
	h.engine.CancelProbe(serviceID, instanceID)

	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles PUT /api/v1/registry/services/{serviceId}/instances/{instanceId}/heartbeat.
func (h *RegistryHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	instanceID := chi.URLParam(r, "instanceId")

	inst, err := h.engine.Store().Renew(serviceID, instanceID)
	if err != nil {
		writeRegistryError(w, r, err)
		return
	}
	if inst == nil {
		response.Error(w, r, http.StatusNotFound, response.ErrCodeNotFound, "instance not found")
		return
	}

	response.JSON(w, http.StatusOK, inst)
}

// GetInstances handles GET /api/v1/registry/services/{serviceId}/instances.
func (h *RegistryHandler) GetInstances(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	instances := h.engine.Store().GetInstances(serviceID)
	response.JSON(w, http.StatusOK, instances)
}

// GetInstance handles GET /api/v1/registry/services/{serviceId}/instances/{instanceId}.
func (h *RegistryHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")
	instanceID := chi.URLParam(r, "instanceId")

	inst := h.engine.Store().GetInstance(serviceID, instanceID)
	if inst == nil {
		response.Error(w, r, http.StatusNotFound, response.ErrCodeNotFound, "instance not found")
		return
	}
	response.JSON(w, http.StatusOK, inst)
}

// GetServices handles GET /api/v1/registry/services.
func (h *RegistryHandler) GetServices(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string][]string{
		"services": h.engine.Store().GetServices(),
	})
}

func writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch err.(type) {
	case *registry.ValidationError:
		response.ErrorWithDetails(w, r, http.StatusBadRequest, response.ErrCodeValidation, err.Error(), nil)
	case *registry.StoreClosedError:
		response.Error(w, r, http.StatusServiceUnavailable, response.ErrCodeRegistry, err.Error())
	default:
		response.Error(w, r, http.StatusInternalServerError, response.ErrCodeRegistry, err.Error())
	}
}
