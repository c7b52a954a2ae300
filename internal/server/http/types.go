// Package http implements the gateway's HTTP API server.
package http

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Time   string `json:"time" example:"2024-01-15T10:30:00Z"`
}

// StartSessionRequest asks for a new exec-provider session.
type StartSessionRequest struct {
	Cwd   string `json:"cwd,omitempty" example:"/home/dev/project"`
	Model string `json:"model,omitempty" example:"gpt-5-codex"`
}

// StartSessionResponse confirms a created session.
type StartSessionResponse struct {
	SessionID string `json:"sessionId" example:"550e8400-e29b-41d4-a716-446655440000"`
	Cwd       string `json:"cwd" example:"/home/dev/project"`
	Ready     bool   `json:"ready" example:"true"`
}

// SubmitMessageRequest carries one user turn.
type SubmitMessageRequest struct {
	Content   string `json:"content" example:"fix the failing test"`
	ImagePath string `json:"imagePath,omitempty" example:"/home/dev/.codexgw/uploads/1700000000-ab12cd.png"`
}

// SubmitMessageResponse acknowledges an accepted turn.
type SubmitMessageResponse struct {
	Accepted  bool   `json:"accepted" example:"true"`
	MessageID string `json:"messageId" example:"msg-550e8400"`
}

// CancelRequest carries the optional queue-clearing flag.
type CancelRequest struct {
	ClearQueue bool `json:"clearQueue,omitempty" example:"false"`
}

// UploadResponse reports where an uploaded image was stored.
type UploadResponse struct {
	Path string `json:"path" example:"/home/dev/.codexgw/uploads/1700000000-ab12cd.png"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error" example:"session not found"`
	Code  string `json:"code,omitempty" example:"SESSION_NOT_FOUND"`
}
