package models

// ServiceInfo is returned by the liveness endpoint
type ServiceInfo struct {
	Message     string            `json:"message"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Endpoints   map[string]string `json:"endpoints"`
}
