package models

// Quota names follow the shape "<name>[:<type_name>]": a bare name
// applies globally for the project, a suffixed one to a single type.
const (
	QuotaMaxArtifactNumber = "max_artifact_number"
	QuotaMaxUploadedData   = "max_uploaded_data"
)

// Unlimited disables a quota.
const Unlimited int64 = -1

// ProjectQuotas holds the per-project overrides of the configured
// global defaults. Keys use the quota-name shape above.
// Maps to: artifact_quotas table
type ProjectQuotas struct {
	ProjectID string           `json:"project_id"`
	Quotas    map[string]int64 `json:"quotas"`
}
