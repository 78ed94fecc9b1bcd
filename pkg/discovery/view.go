// Package discovery is the pure read-side view over the registry store:
// per-service and catalog-wide reads, attribute filtering, and a thin
// forward of the event bus's per-service watch stream.
package discovery

import (
	"regexp"

	"github.com/hsc/registry-server/pkg/eventbus"
	"github.com/hsc/registry-server/pkg/registry"
)

const maxServiceIDLength = 100

var serviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidServiceID enforces the read-path identity rule: non-empty, at
// most 100 characters, [A-Za-z0-9._-]+.
func ValidServiceID(id string) bool {
	return id != "" && len(id) <= maxServiceIDLength && serviceIDPattern.MatchString(id)
}

// Filter narrows a discovery read by exact-match instance attributes. An
// unknown Status value excludes every instance (never silently ignored).
type Filter struct {
	HealthyOnly bool
	Status      string
	Zone        string
	Version     string
}

// ServiceView is the shape returned for a single service's instances.
type ServiceView struct {
	ServiceID      string                     `json:"serviceId"`
	Instances      []registry.ServiceInstance `json:"instances"`
	TotalInstances int                        `json:"totalInstances"`
}

// Catalog is the full serviceId -> instances snapshot.
type Catalog struct {
	Services       map[string][]registry.ServiceInstance `json:"services"`
	TotalServices  int                                    `json:"totalServices"`
	TotalInstances int                                    `json:"totalInstances"`
}

// View wraps a registry.Store and an eventbus.Bus for read-only
// discovery operations.
type View struct {
	store *registry.Store
	bus   *eventbus.Bus
}

// New creates a discovery view over store and bus.
func New(store *registry.Store, bus *eventbus.Bus) *View {
	return &View{store: store, bus: bus}
}

// ErrInvalidServiceID is returned when a serviceId fails read-path
// validation before reaching the store.
type ErrInvalidServiceID struct {
	ServiceID string
}

func (e *ErrInvalidServiceID) Error() string {
	return "invalid service id: " + e.ServiceID
}

// Discover returns every instance of serviceId.
func (v *View) Discover(serviceID string) (ServiceView, error) {
	if !ValidServiceID(serviceID) {
		return ServiceView{}, &ErrInvalidServiceID{ServiceID: serviceID}
	}
	instances := v.store.GetInstances(serviceID)
	return ServiceView{ServiceID: serviceID, Instances: instances, TotalInstances: len(instances)}, nil
}

// DiscoverHealthy returns only the UP instances of serviceId.
func (v *View) DiscoverHealthy(serviceID string) (ServiceView, error) {
	if !ValidServiceID(serviceID) {
		return ServiceView{}, &ErrInvalidServiceID{ServiceID: serviceID}
	}
	instances := v.store.GetHealthyInstances(serviceID)
	return ServiceView{ServiceID: serviceID, Instances: instances, TotalInstances: len(instances)}, nil
}

// DiscoverFiltered returns serviceId's instances matching filter.
func (v *View) DiscoverFiltered(serviceID string, filter Filter) (ServiceView, error) {
	if !ValidServiceID(serviceID) {
		return ServiceView{}, &ErrInvalidServiceID{ServiceID: serviceID}
	}

	var instances []registry.ServiceInstance
	if filter.HealthyOnly {
		instances = v.store.GetHealthyInstances(serviceID)
	} else {
		instances = v.store.GetInstances(serviceID)
	}

	filtered := make([]registry.ServiceInstance, 0, len(instances))
	for _, inst := range instances {
		if applyFilters(inst, filter) {
			filtered = append(filtered, inst)
		}
	}
	return ServiceView{ServiceID: serviceID, Instances: filtered, TotalInstances: len(filtered)}, nil
}

// applyFilters reports whether inst matches every non-empty field of
// filter. An explicit Status value that names no recognized status
// excludes every instance.
func applyFilters(inst registry.ServiceInstance, filter Filter) bool {
	if filter.Status != "" {
		status := registry.Status(filter.Status)
		if !status.IsValid() {
			return false
		}
		if inst.Status != status {
			return false
		}
	}
	if filter.Zone != "" && inst.Metadata["zone"] != filter.Zone {
		return false
	}
	if filter.Version != "" && inst.Metadata["version"] != filter.Version {
		return false
	}
	return true
}

// GetCatalog returns the full serviceId -> instances snapshot. When
// healthyOnly is set, each service's list is filtered to UP instances
// and services left with zero instances are dropped entirely; totals
// are recomputed from the filtered content.
func (v *View) GetCatalog(healthyOnly bool) Catalog {
	all := v.store.GetAllInstances()
	services := make(map[string][]registry.ServiceInstance, len(all))
	totalInstances := 0

	for serviceID, instances := range all {
		if healthyOnly {
			filtered := make([]registry.ServiceInstance, 0, len(instances))
			for _, inst := range instances {
				if inst.Status.IsHealthy() {
					filtered = append(filtered, inst)
				}
			}
			if len(filtered) == 0 {
				continue
			}
			services[serviceID] = filtered
			totalInstances += len(filtered)
		} else {
			services[serviceID] = instances
			totalInstances += len(instances)
		}
	}

	return Catalog{
		Services:       services,
		TotalServices:  len(services),
		TotalInstances: totalInstances,
	}
}

// GetServices returns the set of registered service ids.
func (v *View) GetServices() []string {
	return v.store.GetServices()
}

// WatchService forwards the event bus's per-service watch stream.
func (v *View) WatchService(serviceID string) *eventbus.Subscription {
	return v.bus.Watch(serviceID)
}

// WatchAll forwards the catalog-wide event stream.
func (v *View) WatchAll() *eventbus.Subscription {
	return v.bus.WatchAll()
}
