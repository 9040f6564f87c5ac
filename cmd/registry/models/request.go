package models

// RequestContext identifies the caller for every repository and engine
// operation. It is built by the auth middleware from request headers.
type RequestContext struct {
	TenantID string
	IsAdmin  bool
	ReadOnly bool
}

// PolicyView returns the attribute map handed to the policy engine.
func (rc *RequestContext) PolicyView(artifactOwner string) map[string]any {
	return map[string]any{
		"owner": artifactOwner,
	}
}
