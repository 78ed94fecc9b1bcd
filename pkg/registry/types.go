// Package registry holds the canonical in-memory state of registered
// service instances: the registration/deregistration/renewal API, the
// instance status history, and the lease-expiry scanner that drives
// instances to DOWN and then UNKNOWN when their heartbeat goes stale.
package registry

import (
	"fmt"
	"regexp"
	"time"
)

// Status is the lifecycle state of a ServiceInstance.
type Status string

const (
	StatusStarting     Status = "STARTING"
	StatusUp           Status = "UP"
	StatusDown         Status = "DOWN"
	StatusOutOfService Status = "OUT_OF_SERVICE"
	StatusUnknown      Status = "UNKNOWN"
)

// IsValid reports whether s is one of the recognized status values.
func (s Status) IsValid() bool {
	switch s {
	case StatusStarting, StatusUp, StatusDown, StatusOutOfService, StatusUnknown:
		return true
	default:
		return false
	}
}

// HealthCheckType selects the probe protocol used by the health probe engine.
type HealthCheckType string

const (
	HealthCheckHTTP   HealthCheckType = "HTTP"
	HealthCheckTCP    HealthCheckType = "TCP"
	HealthCheckScript HealthCheckType = "SCRIPT"
)

const (
	DefaultHealthCheckPath     = "/actuator/health"
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultRetryCount          = 3
	DefaultLeaseDuration       = 90 * time.Second
)

// identityPattern matches valid serviceId/instanceId tokens.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidIdentity reports whether id is a legal serviceId or instanceId.
func ValidIdentity(id string) bool {
	return id != "" && identityPattern.MatchString(id)
}

// HealthCheckConfig describes how an instance wants to be probed.
type HealthCheckConfig struct {
	Enabled    bool            `json:"enabled"`
	Type       HealthCheckType `json:"type"`
	Path       string          `json:"path"`
	Interval   time.Duration   `json:"interval"`
	Timeout    time.Duration   `json:"timeout"`
	RetryCount int             `json:"retryCount"`
}

// withDefaults fills zero-valued fields with their documented defaults.
func (h HealthCheckConfig) withDefaults() HealthCheckConfig {
	if h.Type == "" {
		h.Type = HealthCheckHTTP
	}
	if h.Path == "" {
		h.Path = DefaultHealthCheckPath
	}
	if h.Interval <= 0 {
		h.Interval = DefaultHealthCheckInterval
	}
	if h.Timeout <= 0 {
		h.Timeout = DefaultHealthCheckTimeout
	}
	if h.RetryCount < 1 {
		h.RetryCount = DefaultRetryCount
	}
	return h
}

// ServiceInstance is the unit of registration: one running endpoint of
// one service.
type ServiceInstance struct {
	ServiceID        string            `json:"serviceId"`
	InstanceID       string            `json:"instanceId"`
	Host             string            `json:"host"`
	Port             int               `json:"port"`
	Secure           bool              `json:"secure"`
	Status           Status            `json:"status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	HealthCheck      HealthCheckConfig `json:"healthCheck"`
	RegistrationTime time.Time         `json:"registrationTime"`
	LastHeartbeat    time.Time         `json:"lastHeartbeat"`
	LeaseDuration    time.Duration     `json:"leaseDuration,omitempty"`
}

// URI renders the instance's base endpoint as a scheme://host:port string.
func (s ServiceInstance) URI() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// leaseThreshold returns the effective heartbeat-timeout threshold.
func (s ServiceInstance) leaseThreshold() time.Duration {
	if s.LeaseDuration > 0 {
		return s.LeaseDuration
	}
	return DefaultLeaseDuration
}

func (s ServiceInstance) clone() ServiceInstance {
	cp := s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// ServiceRegistration is the external-facing request shape submitted by a
// client wishing to register an instance.
type ServiceRegistration struct {
	ServiceID     string             `json:"serviceId"`
	InstanceID    string             `json:"instanceId"`
	Host          string             `json:"host"`
	Port          int                `json:"port"`
	Secure        bool               `json:"secure"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	HealthCheck   *HealthCheckConfig `json:"healthCheck,omitempty"`
	LeaseDuration time.Duration      `json:"leaseDuration,omitempty"`
}

// toInstance converts a registration into the canonical stored shape,
// defaulting status to STARTING.
func (r ServiceRegistration) toInstance(now time.Time) ServiceInstance {
	hc := HealthCheckConfig{Enabled: true}
	if r.HealthCheck != nil {
		hc = *r.HealthCheck
	}
	hc = hc.withDefaults()

	return ServiceInstance{
		ServiceID:        r.ServiceID,
		InstanceID:       r.InstanceID,
		Host:             r.Host,
		Port:             r.Port,
		Secure:           r.Secure,
		Status:           StatusStarting,
		Metadata:         r.Metadata,
		HealthCheck:      hc,
		RegistrationTime: now,
		LastHeartbeat:    now,
		LeaseDuration:    r.LeaseDuration,
	}
}

// StatusHistoryEntry records one status transition for an instance.
type StatusHistoryEntry struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
