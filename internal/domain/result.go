package domain

// EnvironmentResult is one completed skybox variation.
type EnvironmentResult struct {
	JobID string `json:"job_id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// GenerationOutcome is the merged result of the environment and asset
// branches. AssetError is non-fatal: the environment branch succeeded and the
// asset branch either failed or was skipped.
type GenerationOutcome struct {
	SessionID          string              `json:"session_id"`
	EnvironmentResults []EnvironmentResult `json:"environment_results"`
	AssetResult        *GeneratedAsset     `json:"asset_result,omitempty"`
	AssetError         string              `json:"asset_error,omitempty"`
	Warnings           []string            `json:"warnings,omitempty"`
}
