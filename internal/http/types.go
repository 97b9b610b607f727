package http

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version,omitempty"`
	RegistryVersion string `json:"registry_version"`
	Providers       int    `json:"providers"`
}

// OutcomeResponse is the response body for POST /api/v1/outcome.
type OutcomeResponse struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

// EffectivenessResponse is the response body for GET /api/v1/effectiveness.
type EffectivenessResponse struct {
	Fingerprint   string  `json:"fingerprint"`
	Effectiveness float64 `json:"effectiveness"`
}
