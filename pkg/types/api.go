package types

// PredictRequest is the payload for POST /predict.
type PredictRequest struct {
	// Input features for the model.
	Features []float64 `json:"features"`
	// Optional model version override. Empty means "use the active version".
	// example: v2
	Version string `json:"version,omitempty"`
}

// PredictResponse is the result of a prediction.
type PredictResponse struct {
	Prediction   float64 `json:"prediction"`
	ModelVersion string  `json:"model_version"`
	LatencyMS    float64 `json:"latency_ms"`
}

// VersionRequest asks to activate a model version.
type VersionRequest struct {
	// example: v2
	Version string `json:"version"`
}

// VersionResponse reports the outcome of a version operation.
type VersionResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ActiveVersion string `json:"active_version"`
}

// ActiveVersionResponse describes the current active version.
type ActiveVersionResponse struct {
	ActiveVersion     string   `json:"active_version"`
	AvailableVersions []string `json:"available_versions"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status            string   `json:"status"`
	ActiveVersion     string   `json:"active_version"`
	AvailableVersions []string `json:"available_versions"`
	ModelsLoaded      int      `json:"models_loaded"`
}

// ModelInfoResponse describes one model version for admin surfaces.
type ModelInfoResponse struct {
	Version      string   `json:"version"`
	Exists       bool     `json:"exists"`
	Loaded       bool     `json:"loaded"`
	Active       bool     `json:"active"`
	LoadTimeSec  *float64 `json:"load_time,omitempty"`
	FileSize     *int64   `json:"file_size,omitempty"`
	ModifiedTime *int64   `json:"modified_time,omitempty"`
}

// CacheClearResponse reports the outcome of a cache clear.
type CacheClearResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ClearedVersion string `json:"cleared_version,omitempty"`
}

// ActivityEvent is one recorded admin action.
type ActivityEvent struct {
	At          int64  `json:"at"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Outcome     string `json:"outcome"`
}

// ErrorResponse is the canonical JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
